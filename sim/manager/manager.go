// Package manager serializes commands from many client processes onto one grid.
//
// A single goroutine owns the GridView and executes submissions in arrival order.
// Process handles block until their command has finalized or aborted.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/puddle-lab/puddle/sim"
	"github.com/puddle-lab/puddle/sim/store"
)

const storeTimeout = 2 * time.Second

type submission struct {
	cmd  sim.Command
	done chan error
}

// Manager owns the executor goroutine and the process registry.
type Manager struct {
	executor *sim.Executor
	metrics  *sim.Metrics
	store    store.SnapshotStore

	submissions chan submission
	stopped     chan struct{}
	cancel      context.CancelFunc
	closeOnce   sync.Once

	published atomic.Pointer[store.Frame]

	mu        sync.Mutex
	processes map[sim.ProcessID]*Process
	nextPID   sim.ProcessID
}

// New starts a manager over grid.
func New(grid *sim.Grid, opts ...Option) *Manager {
	cfg := config{queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	delay := stepDelayFromEnv()
	if cfg.stepDelay != nil {
		delay = *cfg.stepDelay
	}

	view := sim.NewGridView(grid, sim.GridViewConfig{
		Sink:      cfg.sink,
		StepDelay: delay,
		Metrics:   cfg.metrics,
		Trace:     cfg.trace,
	})
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		executor:    sim.NewExecutor(view),
		metrics:     cfg.metrics,
		store:       cfg.store,
		submissions: make(chan submission, cfg.queueSize),
		stopped:     make(chan struct{}),
		cancel:      cancel,
		processes:   make(map[sim.ProcessID]*Process),
	}
	m.published.Store(&store.Frame{Droplets: []sim.DropletInfo{}, SavedAt: time.Now()})
	logrus.Infof("manager started: %dx%d grid, %d pins, step delay %v", grid.Rows(), grid.Cols(), grid.NumPins(), delay)
	go m.loop(ctx)
	return m
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-m.submissions:
			err := m.executor.Execute(sub.cmd)
			m.publish()
			sub.done <- err
		}
	}
}

// publish makes the post-command snapshot visible to readers outside the loop.
func (m *Manager) publish() {
	view := m.executor.View()
	frame := &store.Frame{
		Tick:     view.CurrentTick(),
		Droplets: view.Snapshot().DropletInfo(nil),
		SavedAt:  time.Now(),
	}
	m.published.Store(frame)
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Save(ctx, *frame); err != nil {
		logrus.Warnf("[tick %07d] publishing snapshot failed: %v", frame.Tick, err)
	}
}

// submit hands cmd to the execution goroutine and waits for its outcome.
func (m *Manager) submit(cmd sim.Command) error {
	done := make(chan error, 1)
	select {
	case m.submissions <- submission{cmd: cmd, done: done}:
	case <-m.stopped:
		return sim.ErrManagerClosed
	}
	select {
	case err := <-done:
		return err
	case <-m.stopped:
		select {
		case err := <-done:
			return err
		default:
			return sim.ErrManagerClosed
		}
	}
}

// NewProcess registers a client and returns its id.
func (m *Manager) NewProcess(name string) sim.ProcessID {
	return m.GetNewProcess(name).ID()
}

// GetNewProcess registers a client and returns its handle.
func (m *Manager) GetNewProcess(name string) *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPID++
	p := &Process{id: m.nextPID, name: name, mgr: m}
	m.processes[p.id] = p
	m.updateProcessGauge()
	logrus.Infof("process %d (%s) opened", p.id, name)
	return p
}

// Process looks up an open process.
func (m *Manager) Process(pid sim.ProcessID) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[pid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", sim.ErrProcessNotFound, pid)
	}
	return p, nil
}

// Processes lists open process ids in ascending order.
func (m *Manager) Processes() []sim.ProcessID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sim.ProcessID, 0, len(m.processes))
	for pid := range m.processes {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CloseProcess stops further submissions from pid. Its droplets stay on the grid
// and a command already submitted still runs to completion.
func (m *Manager) CloseProcess(pid sim.ProcessID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[pid]
	if !ok {
		return fmt.Errorf("%w: %d", sim.ErrProcessNotFound, pid)
	}
	p.closed.Store(true)
	delete(m.processes, pid)
	m.updateProcessGauge()
	logrus.Infof("process %d (%s) closed", pid, p.name)
	return nil
}

func (m *Manager) updateProcessGauge() {
	if m.metrics != nil {
		m.metrics.SetProcesses(len(m.processes))
	}
}

// VisualizerDropletInfo returns every live droplet as of the last finished command.
func (m *Manager) VisualizerDropletInfo() []sim.DropletInfo {
	f := m.published.Load()
	return append([]sim.DropletInfo(nil), f.Droplets...)
}

// CurrentTick returns the tick count as of the last finished command.
func (m *Manager) CurrentTick() int64 {
	return m.published.Load().Tick
}

// Close stops the execution goroutine. Waiting callers get ErrManagerClosed
// unless their command already finished, and so does every later submission.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		<-m.stopped
		logrus.Infof("manager stopped at tick %d", m.CurrentTick())
	})
}
