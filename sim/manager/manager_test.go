package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puddle-lab/puddle/sim"
	"github.com/puddle-lab/puddle/sim/store"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.FatalLevel)
	}
	os.Exit(m.Run())
}

func newTestManager(t *testing.T, grid *sim.Grid, opts ...Option) *Manager {
	t.Helper()
	m := New(grid, append([]Option{WithStepDelay(0)}, opts...)...)
	t.Cleanup(m.Close)
	return m
}

func loc(y, x int) *sim.Location {
	return &sim.Location{Y: y, X: x}
}

func TestProcess_CreateSomeDroplets(t *testing.T) {
	// GIVEN a process on a 10x10 grid
	m := newTestManager(t, sim.Rectangle(10, 10))
	p := m.GetNewProcess("test")

	// WHEN droplets are created at explicit locations
	want := map[sim.DropletID]sim.Location{}
	for _, l := range []sim.Location{{Y: 1, X: 1}, {Y: 4, X: 4}, {Y: 1, X: 7}} {
		l := l
		id, err := p.Create(&l, 1.0, nil)
		require.NoError(t, err)
		want[id] = l
	}

	// THEN flush reports each at exactly its location
	info, err := p.Flush()
	require.NoError(t, err)
	require.Len(t, info, len(want))
	for _, d := range info {
		assert.Equal(t, want[d.ID], d.Location)
		assert.Equal(t, sim.Location{Y: 1, X: 1}, d.Dimensions)
	}
}

func TestProcess_DoesNotFit(t *testing.T) {
	m := newTestManager(t, sim.Rectangle(3, 3))
	p := m.GetNewProcess("test")

	for i := 0; i < 4; i++ {
		_, err := p.Create(nil, 1.0, nil)
		require.NoError(t, err)
	}
	_, err := p.Create(nil, 1.0, nil)

	assert.True(t, errors.Is(err, sim.ErrPlace), "got %v", err)
	assert.True(t, sim.IsPlacementFailure(err))
}

func TestProcess_MixThree_SumsVolume(t *testing.T) {
	// GIVEN three droplets of volume 1, 2 and 3
	m := newTestManager(t, sim.Rectangle(10, 10))
	p := m.GetNewProcess("mix")
	a, err := p.Create(loc(1, 1), 1.0, nil)
	require.NoError(t, err)
	b, err := p.Create(loc(1, 5), 2.0, nil)
	require.NoError(t, err)
	c, err := p.Create(loc(7, 7), 3.0, nil)
	require.NoError(t, err)

	// WHEN they are mixed pairwise
	ab, err := p.Mix(a, b)
	require.NoError(t, err)
	abc, err := p.Mix(ab, c)
	require.NoError(t, err)

	// THEN one droplet of the total volume remains
	info, err := p.Flush()
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.Equal(t, abc, info[0].ID)
	assert.InDelta(t, 6.0, info[0].Volume, 1e-9)
	assert.Equal(t, sim.Location{Y: 3, X: 1}, info[0].Dimensions)
}

func TestProcess_MixThenSplit(t *testing.T) {
	m := newTestManager(t, sim.Rectangle(10, 10))
	p := m.GetNewProcess("mix-split")
	a, err := p.Create(loc(2, 2), 1.0, nil)
	require.NoError(t, err)
	b, err := p.Create(loc(6, 6), 1.0, nil)
	require.NoError(t, err)
	ab, err := p.Mix(a, b)
	require.NoError(t, err)

	x, y, err := p.Split(ab)
	require.NoError(t, err)

	info, err := p.Flush()
	require.NoError(t, err)
	require.Len(t, info, 2)
	byID := map[sim.DropletID]sim.DropletInfo{info[0].ID: info[0], info[1].ID: info[1]}
	assert.InDelta(t, 1.0, byID[x].Volume, 1e-9)
	assert.InDelta(t, 1.0, byID[y].Volume, 1e-9)
	assert.NotEqual(t, byID[x].Location, byID[y].Location)
}

func TestProcess_CombineIntoLocation(t *testing.T) {
	m := newTestManager(t, sim.Rectangle(12, 12))
	p := m.GetNewProcess("combine-into")
	a, err := p.Create(loc(2, 0), 1.0, nil)
	require.NoError(t, err)
	b, err := p.Create(loc(8, 8), 1.0, nil)
	require.NoError(t, err)
	c, err := p.Create(loc(9, 10), 1.0, nil)
	require.NoError(t, err)

	ab, err := p.CombineInto(a, b)
	require.NoError(t, err)
	ca, err := p.CombineInto(c, ab)
	require.NoError(t, err)

	info, err := p.Flush()
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.Equal(t, ca, info[0].ID)
	// ab lands one row above a; then ab (2 rows tall) stacks above c.
	assert.Equal(t, sim.Location{Y: 7, X: 10}, info[0].Location)
	assert.Equal(t, sim.Location{Y: 3, X: 1}, info[0].Dimensions)
	assert.InDelta(t, 3.0, info[0].Volume, 1e-9)
}

func TestProcess_FlushTwice_SameDroplets(t *testing.T) {
	m := newTestManager(t, sim.Rectangle(5, 5))
	p := m.GetNewProcess("flush")
	_, err := p.Create(loc(2, 2), 1.0, nil)
	require.NoError(t, err)

	first, err := p.Flush()
	require.NoError(t, err)
	second, err := p.Flush()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestManager_ConcurrentProcessesAreIsolated(t *testing.T) {
	// GIVEN N processes on one grid
	const n = 8
	m := newTestManager(t, sim.Rectangle(10, 10))

	// WHEN each creates and flushes one droplet concurrently
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := m.GetNewProcess(fmt.Sprintf("p%d", i))
			id, err := p.Create(nil, float64(i+1), nil)
			if err != nil {
				errs <- err
				return
			}
			info, err := p.Flush()
			if err != nil {
				errs <- err
				return
			}
			// THEN each sees exactly its own droplet
			if len(info) != 1 || info[0].ID != id || info[0].ID.ProcessID != p.ID() {
				errs <- fmt.Errorf("process %d saw %v, want only %v", p.ID(), info, id)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	// AND the visualizer sees all of them
	assert.Len(t, m.VisualizerDropletInfo(), n)
}

func TestProcess_ForeignDroplet_Rejected(t *testing.T) {
	m := newTestManager(t, sim.Rectangle(5, 5))
	owner := m.GetNewProcess("owner")
	other := m.GetNewProcess("other")
	id, err := owner.Create(loc(0, 0), 1.0, nil)
	require.NoError(t, err)

	_, err = other.Move(id, sim.Location{Y: 4, X: 4})

	assert.True(t, errors.Is(err, sim.ErrDropletNotFound), "got %v", err)
	info, err := owner.Flush()
	require.NoError(t, err)
	assert.Equal(t, sim.Location{}, info[0].Location)
}

func TestProcess_Closed_RejectsSubmissions(t *testing.T) {
	m := newTestManager(t, sim.Rectangle(5, 5))
	p := m.GetNewProcess("short-lived")
	require.NoError(t, p.Close())

	_, err := p.Create(nil, 1.0, nil)
	assert.True(t, errors.Is(err, sim.ErrProcessNotFound), "got %v", err)
	_, err = m.Process(p.ID())
	assert.True(t, errors.Is(err, sim.ErrProcessNotFound))
	assert.True(t, errors.Is(m.CloseProcess(p.ID()), sim.ErrProcessNotFound), "double close")
}

func TestManager_Closed_RejectsSubmissions(t *testing.T) {
	m := New(sim.Rectangle(5, 5), WithStepDelay(0))
	p := m.GetNewProcess("late")
	m.Close()

	_, err := p.Create(nil, 1.0, nil)

	assert.True(t, errors.Is(err, sim.ErrManagerClosed), "got %v", err)
	m.Close()
}

func TestManager_ProcessRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newTestManager(t, sim.Rectangle(5, 5), WithMetrics(sim.NewMetrics(reg)))

	a := m.NewProcess("a")
	b := m.NewProcess("b")
	assert.Equal(t, []sim.ProcessID{a, b}, m.Processes())
	require.NoError(t, m.CloseProcess(a))
	assert.Equal(t, []sim.ProcessID{b}, m.Processes())

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var gauge float64 = -1
	for _, mf := range mfs {
		if mf.GetName() == "puddle_processes" {
			gauge = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1.0, gauge)
}

func TestProcess_DropletInfo_FiltersByOwner(t *testing.T) {
	m := newTestManager(t, sim.Rectangle(10, 10))
	a := m.GetNewProcess("a")
	b := m.GetNewProcess("b")
	_, err := a.Create(loc(0, 0), 1.0, nil)
	require.NoError(t, err)
	_, err = b.Create(loc(5, 5), 1.0, nil)
	require.NoError(t, err)

	info, err := a.DropletInfo()
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.Equal(t, a.ID(), info[0].ID.ProcessID)
	assert.Len(t, m.VisualizerDropletInfo(), 2)
}

func TestManager_PublishesToStore(t *testing.T) {
	s := store.NewMemoryStore(10)
	m := newTestManager(t, sim.Rectangle(5, 5), WithStore(s))
	p := m.GetNewProcess("pub")

	_, err := p.Create(loc(1, 1), 1.0, nil)
	require.NoError(t, err)

	latest, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, latest.Droplets, 1)
	assert.Equal(t, sim.Location{Y: 1, X: 1}, latest.Droplets[0].Location)
	assert.Equal(t, m.CurrentTick(), latest.Tick)
}

// labBoard has a heater at (3, 2), a water input at (0, 4) and a waste output at (4, 0).
func labBoard(t *testing.T) *sim.Grid {
	t.Helper()
	board := `{
	  "board": [
	    ["a", "a", "a", "a", "a"],
	    ["a", "a", "a", "a", "a"],
	    ["a", "a", "a", "a", "a"],
	    ["a", "a", "a", "a", "a"],
	    ["a", "a", "a", "a", "a"]
	  ],
	  "peripherals": {
	    "(3, 2)": {"type": "Heater", "pwm_channel": 0, "spi_channel": 0},
	    "(0, 4)": {"type": "Input", "pwm_channel": 1, "name": "water"},
	    "(4, 0)": {"type": "Output", "pwm_channel": 2, "name": "waste"}
	  }
	}`
	grid, err := sim.FromReader(strings.NewReader(board))
	require.NoError(t, err)
	return grid
}

func TestManager_HeatAndPorts(t *testing.T) {
	// GIVEN a board with a heater, a water input and a waste output
	sink := &sim.RecordingSink{}
	m := newTestManager(t, labBoard(t), WithSink(sink))
	p := m.GetNewProcess("protocol")

	// WHEN water is dispensed, heated and drained
	d, err := p.Input("water", 1.0, nil)
	require.NoError(t, err)
	d, err = p.Heat(d, 60, 0.5)
	require.NoError(t, err)
	info, err := p.Flush()
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.Equal(t, sim.Location{Y: 3, X: 2}, info[0].Location)
	require.NoError(t, p.Output("waste", d))

	// THEN the sink saw input, heat and output in order
	_, effects := sink.Snapshot()
	require.Len(t, effects, 3)
	assert.Equal(t, sim.EffectInput, effects[0].Kind)
	assert.Equal(t, sim.EffectHeat, effects[1].Kind)
	assert.Equal(t, 500*time.Millisecond, effects[1].Duration)
	assert.Equal(t, sim.EffectOutput, effects[2].Kind)
	assert.Empty(t, m.VisualizerDropletInfo())
}

func TestProcess_HardwareFailure_KeepsDropletHandle(t *testing.T) {
	// GIVEN a board whose peripherals all fail to actuate
	sink := &sim.RecordingSink{Fail: errors.New("spi down")}
	m := newTestManager(t, labBoard(t), WithSink(sink))
	p := m.GetNewProcess("protocol")

	// WHEN water is dispensed and heated
	water, err := p.Input("water", 1.0, nil)
	require.ErrorIs(t, err, sim.ErrHardware)
	hot, err := p.Heat(water, 60, 0.5)
	require.ErrorIs(t, err, sim.ErrHardware)

	// THEN each call still hands back the id of the droplet left on the grid
	info, err := p.Flush()
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.Equal(t, hot, info[0].ID)
	assert.Equal(t, sim.Location{Y: 3, X: 2}, info[0].Location)
	assert.NotEqual(t, water, hot)

	// AND the returned id keeps working
	_, err = p.Move(hot, sim.Location{Y: 0, X: 0})
	assert.NoError(t, err)
}

func TestProcess_PlacementFailure_ReturnsZeroID(t *testing.T) {
	// GIVEN a board whose input port is for water only
	m := newTestManager(t, labBoard(t))
	p := m.GetNewProcess("protocol")

	// WHEN a substance with no port is dispensed
	id, err := p.Input("oil", 1.0, nil)

	// THEN nothing reached the grid and no id is handed out
	assert.True(t, sim.IsPlacementFailure(err), "got %v", err)
	assert.Equal(t, sim.DropletID{}, id)
	assert.Empty(t, m.VisualizerDropletInfo())
}

func TestStepDelayFromEnv(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", DefaultStepDelay},
		{"0", 0},
		{"25", 25 * time.Millisecond},
		{"fast", DefaultStepDelay},
		{"-3", DefaultStepDelay},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv(StepDelayEnv, tt.raw)
			assert.Equal(t, tt.want, stepDelayFromEnv())
		})
	}
}
