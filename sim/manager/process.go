package manager

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puddle-lab/puddle/sim"
)

// agitateLoopsForMix is how many jostles follow the merge in Mix.
const agitateLoopsForMix = 1

var unitDimensions = sim.Location{Y: 1, X: 1}

// Process is one client's handle. It is safe for concurrent use, although calls
// from one process are still executed one at a time by the manager.
type Process struct {
	id   sim.ProcessID
	name string
	mgr  *Manager

	nextDroplet atomic.Uint32
	closed      atomic.Bool
}

// ID returns the process id.
func (p *Process) ID() sim.ProcessID { return p.id }

// Name returns the name given at registration.
func (p *Process) Name() string { return p.name }

func (p *Process) newID() sim.DropletID {
	return sim.DropletID{ID: p.nextDroplet.Add(1) - 1, ProcessID: p.id}
}

func (p *Process) check(ids ...sim.DropletID) error {
	if p.closed.Load() {
		return fmt.Errorf("%w: %d", sim.ErrProcessNotFound, p.id)
	}
	for _, id := range ids {
		if id.ProcessID != p.id {
			return fmt.Errorf("%w: %v is not owned by process %d", sim.ErrDropletNotFound, id, p.id)
		}
	}
	return nil
}

func (p *Process) submit(cmd sim.Command, ids ...sim.DropletID) error {
	if err := p.check(ids...); err != nil {
		return err
	}
	return p.mgr.submit(cmd)
}

// Create makes a droplet. A nil loc lets the planner choose; a nil dims means 1x1.
func (p *Process) Create(loc *sim.Location, volume float64, dims *sim.Location) (sim.DropletID, error) {
	d := unitDimensions
	if dims != nil {
		d = *dims
	}
	out := p.newID()
	if err := p.submit(sim.NewCreate(out, volume, loc, d)); err != nil {
		return sim.DropletID{}, err
	}
	return out, nil
}

// Input dispenses a droplet of substance from a matching input port.
// When only the port actuation fails the droplet is already on the grid, so its
// id comes back together with the ErrHardware error.
func (p *Process) Input(substance string, volume float64, dims *sim.Location) (sim.DropletID, error) {
	d := unitDimensions
	if dims != nil {
		d = *dims
	}
	out := p.newID()
	return keepCommitted(out, p.submit(sim.NewInput(substance, volume, d, out)))
}

// Output drains id through a matching output port.
func (p *Process) Output(substance string, id sim.DropletID) error {
	return p.submit(sim.NewOutput(substance, id), id)
}

// Move relocates id so its top-left corner sits at loc.
func (p *Process) Move(id sim.DropletID, loc sim.Location) (sim.DropletID, error) {
	out := p.newID()
	if err := p.submit(sim.NewMove(id, out, loc), id); err != nil {
		return sim.DropletID{}, err
	}
	return out, nil
}

// Mix combines a and b, then agitates the result.
func (p *Process) Mix(a, b sim.DropletID) (sim.DropletID, error) {
	combined := p.newID()
	if err := p.submit(sim.NewCombine(a, b, combined), a, b); err != nil {
		return sim.DropletID{}, err
	}
	return p.Agitate(combined, agitateLoopsForMix)
}

// CombineInto merges b into a without moving a.
func (p *Process) CombineInto(a, b sim.DropletID) (sim.DropletID, error) {
	out := p.newID()
	if err := p.submit(sim.NewCombineInto(a, b, out), a, b); err != nil {
		return sim.DropletID{}, err
	}
	return out, nil
}

// Agitate jostles id in place loops times.
func (p *Process) Agitate(id sim.DropletID, loops int) (sim.DropletID, error) {
	out := p.newID()
	if err := p.submit(sim.NewAgitate(id, out, loops), id); err != nil {
		return sim.DropletID{}, err
	}
	return out, nil
}

// Split halves id into two droplets.
func (p *Process) Split(id sim.DropletID) (sim.DropletID, sim.DropletID, error) {
	out0, out1 := p.newID(), p.newID()
	if err := p.submit(sim.NewSplit(id, out0, out1), id); err != nil {
		return sim.DropletID{}, sim.DropletID{}, err
	}
	return out0, out1, nil
}

// Heat parks id on a heater and holds temperature for seconds. A heater failure
// returns the parked droplet's new id along with the ErrHardware error.
func (p *Process) Heat(id sim.DropletID, temperature, seconds float64) (sim.DropletID, error) {
	out := p.newID()
	duration := time.Duration(seconds * float64(time.Second))
	return keepCommitted(out, p.submit(sim.NewHeat(id, out, temperature, duration), id))
}

// keepCommitted returns out unless err means the command never reached the grid.
// Hardware errors surface after the ticks commit, so out is live in that case.
func keepCommitted(out sim.DropletID, err error) (sim.DropletID, error) {
	if err != nil && !errors.Is(err, sim.ErrHardware) {
		return sim.DropletID{}, err
	}
	return out, err
}

// Flush waits for everything submitted so far and returns this process's droplets.
func (p *Process) Flush() ([]sim.DropletInfo, error) {
	f := sim.NewFlush(p.id)
	if err := p.submit(f); err != nil {
		return nil, err
	}
	return f.Info, nil
}

// DropletInfo returns this process's droplets as of the last finished command
// without queueing anything.
func (p *Process) DropletInfo() ([]sim.DropletInfo, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	var out []sim.DropletInfo
	for _, d := range p.mgr.VisualizerDropletInfo() {
		if d.ID.ProcessID == p.id {
			out = append(out, d)
		}
	}
	return out, nil
}

// Close unregisters the process.
func (p *Process) Close() error {
	return p.mgr.CloseProcess(p.id)
}
