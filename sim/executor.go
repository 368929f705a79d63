package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/puddle-lab/puddle/sim/trace"
)

// Executor runs commands one at a time against a GridView.
// It is not safe for concurrent use; the manager owns it from a single goroutine.
type Executor struct {
	view    *GridView
	planner *Planner
	router  *Router
}

// NewExecutor returns an executor over view.
func NewExecutor(view *GridView) *Executor {
	return &Executor{
		view:    view,
		planner: NewPlanner(view.Grid()),
		router:  NewRouter(view.Grid()),
	}
}

// View returns the grid view the executor drives.
func (e *Executor) View() *GridView { return e.view }

// Execute drives cmd through its whole lifecycle.
//
// Placement and routing failures leave the snapshot as it was before the command
// and return an error wrapping ErrPlace, ErrRoute or ErrDropletNotFound. A tick that
// fails validation poisons the view; every later Execute returns ErrCollision.
func (e *Executor) Execute(cmd Command) error {
	start := time.Now()
	name := CommandName(cmd)

	if err := e.view.Err(); err != nil {
		cmd.Abort(err)
		e.recordOutcome(name, OutcomeAborted, start)
		return err
	}

	if cmd.Bypass(e.view) {
		logrus.Debugf("[tick %07d] %s %v bypassed", e.view.CurrentTick(), name, cmd.OutputDroplets())
		e.view.snapshot.CommandsToFinalize.Enqueue(cmd)
		if err := e.finalize(); err != nil {
			e.recordOutcome(name, OutcomeAborted, start)
			return err
		}
		e.recordOutcome(name, OutcomeBypassed, start)
		return nil
	}

	backup := e.view.snapshot.cloneDroplets()
	fail := func(err error) error {
		e.view.snapshot.Droplets = backup
		cmd.Abort(err)
		e.recordOutcome(name, OutcomeAborted, start)
		return err
	}

	req, err := cmd.Request(e.view)
	if err != nil {
		return fail(err)
	}

	var routes []route
	targets := make([]routeTarget, len(cmd.InputDroplets()))
	if len(targets) != len(req.InputLocations) {
		return fail(fmt.Errorf("%w: %s has %d inputs but %d input locations", ErrPlace, name, len(targets), len(req.InputLocations)))
	}
	placement, err := e.planner.Place(req, e.view.snapshot, cmd.InputDroplets(), func(offset Location) bool {
		for i, id := range cmd.InputDroplets() {
			targets[i] = routeTarget{id: id, dest: offset.Add(req.InputLocations[i])}
		}
		planned, rerr := e.router.Plan(e.view.snapshot, targets)
		if rerr != nil {
			return false
		}
		routes = planned
		return true
	})
	e.recordPlacement(cmd, name, req, placement, err)
	if err != nil {
		return fail(err)
	}

	if err := e.run(cmd, e.view.subView(placement.Offset), routes); err != nil {
		cmd.Abort(err)
		e.recordOutcome(name, OutcomeAborted, start)
		return err
	}

	e.view.snapshot.CommandsToFinalize.Enqueue(cmd)
	if err := e.finalize(); err != nil {
		e.recordOutcome(name, OutcomeAborted, start)
		return err
	}
	logrus.Infof("[tick %07d] %s %v -> %v done", e.view.CurrentTick(), name, cmd.InputDroplets(), cmd.OutputDroplets())
	e.recordOutcome(name, OutcomeCommitted, start)
	return nil
}

// run walks the planned routes one cell per tick, then hands over to the command.
func (e *Executor) run(cmd Command, sv *GridSubView, routes []route) error {
	steps := 0
	for _, r := range routes {
		steps += len(r.path)
	}

	for _, r := range routes {
		d := e.view.snapshot.Droplets[r.id]
		dest := r.dest
		d.Destination = &dest
		for _, dir := range r.path {
			e.view.step(r.id, dir)
			steps--
			if steps == 0 {
				d.Destination = nil
				cmd.PreRun(sv)
			}
			if err := e.view.Tick(); err != nil {
				return err
			}
		}
		d.Destination = nil
	}
	if len(routes) == 0 {
		cmd.PreRun(sv)
	}

	if err := cmd.Run(sv); err != nil {
		return err
	}
	if err := e.view.Err(); err != nil {
		return err
	}
	if e.view.dirty {
		return e.view.Tick()
	}
	return nil
}

// finalize drains the finalize queue, applying each command's effects to the sink.
// A failing effect aborts its command; the remaining queue is still drained.
func (e *Executor) finalize() error {
	var errs []error
	q := &e.view.snapshot.CommandsToFinalize
	logrus.Debugf("[tick %07d] finalizing %v", e.view.CurrentTick(), q)
	for q.Peek() != nil {
		c := q.Dequeue()
		for _, eff := range c.Finalize(e.view.snapshot) {
			if err := Apply(e.view.cfg.Sink, eff); err != nil {
				herr := fmt.Errorf("%w: %v on %v: %v", ErrHardware, eff.Kind, eff.Peripheral, err)
				c.Abort(herr)
				errs = append(errs, herr)
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) recordPlacement(cmd Command, name string, req *CommandRequest, p Placement, err error) {
	if m := e.view.cfg.Metrics; m != nil {
		m.CandidatesTried += p.Candidates
	}
	rec := trace.PlacementRecord{
		Command:    name,
		Tick:       e.view.CurrentTick(),
		Trusted:    req.Trusted,
		OffsetY:    p.Offset.Y,
		OffsetX:    p.Offset.X,
		Candidates: p.Candidates,
		Accepted:   err == nil,
	}
	if outs := cmd.OutputDroplets(); len(outs) > 0 {
		rec.ProcessID = uint32(outs[0].ProcessID)
	} else if ins := cmd.InputDroplets(); len(ins) > 0 {
		rec.ProcessID = uint32(ins[0].ProcessID)
	} else if f, ok := cmd.(*Flush); ok {
		rec.ProcessID = uint32(f.Process)
	}
	switch {
	case errors.Is(err, ErrPlace):
		rec.Reason = "place"
	case errors.Is(err, ErrRoute):
		rec.Reason = "route"
	}
	e.view.cfg.Trace.RecordPlacement(rec)
}

func (e *Executor) recordOutcome(name, outcome string, start time.Time) {
	if m := e.view.cfg.Metrics; m != nil {
		m.recordCommand(name, outcome, time.Since(start))
	}
}
