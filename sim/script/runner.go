package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/puddle-lab/puddle/sim"
	"github.com/puddle-lab/puddle/sim/manager"
)

// Result is what one scripted process ended with.
type Result struct {
	Process  string
	Steps    int // steps that completed
	Droplets []sim.DropletInfo
	Err      error
}

// Run executes every process of s concurrently on m and waits for all of them.
// The returned error joins the per-process failures.
func Run(ctx context.Context, m *manager.Manager, s *Script) ([]Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	results := make([]Result, len(s.Processes))
	var wg sync.WaitGroup
	for i := range s.Processes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runProcess(ctx, m, &s.Processes[i])
		}(i)
	}
	wg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

func runProcess(ctx context.Context, m *manager.Manager, ps *ProcessSpec) Result {
	p := m.GetNewProcess(ps.Name)
	defer func() {
		if err := p.Close(); err != nil {
			logrus.Warnf("closing process %q: %v", ps.Name, err)
		}
	}()

	res := Result{Process: ps.Name}
	env := make(bindings)
	for i, step := range ps.Steps {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("process %q step %d (%s): %w", ps.Name, i, step.Op, err)
			return res
		}
		o, err := compile(step)
		if err == nil {
			err = o.run(p, env, step.As)
		}
		if err != nil {
			res.Err = fmt.Errorf("process %q step %d (%s): %w", ps.Name, i, step.Op, err)
			logrus.Errorf("%v", res.Err)
			return res
		}
		res.Steps++
		logrus.Debugf("process %q step %d (%s) done", ps.Name, i, step.Op)
	}

	info, err := p.Flush()
	if err != nil {
		res.Err = fmt.Errorf("process %q final flush: %w", ps.Name, err)
		return res
	}
	res.Droplets = info
	logrus.Infof("process %q finished %d steps with %d droplets", ps.Name, res.Steps, len(info))
	return res
}
