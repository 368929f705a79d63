package sim

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Command is one droplet operation. The set of implementations is closed;
// the executor drives every command through the same lifecycle:
//
//	Bypass -> Request -> (place, route) -> PreRun -> Run -> Finalize
//
// with Abort replacing the tail whenever something fails.
type Command interface {
	// InputDroplets are consumed by the command, in the order of CommandRequest.InputLocations.
	InputDroplets() []DropletID
	// OutputDroplets are produced by the command.
	OutputDroplets() []DropletID

	// Bypass reports that the snapshot already reflects this command.
	Bypass(gv *GridView) bool
	// Request computes the region the command needs. It may update droplet metadata.
	Request(gv *GridView) (*CommandRequest, error)
	// PreRun runs right before the last routing tick. It must not tick.
	PreRun(sv *GridSubView)
	// Run mutates the grid, ticking as needed.
	Run(sv *GridSubView) error
	// Finalize returns the external effects to apply once the ticks have committed.
	Finalize(snap *Snapshot) []Effect
	// Abort reports a failure in place of Run/Finalize.
	Abort(err error)

	command()
}

// CommandName is the label used in logs, metrics and traces.
func CommandName(c Command) string {
	switch c.(type) {
	case *Create:
		return "create"
	case *Move:
		return "move"
	case *Combine:
		return "combine"
	case *Agitate:
		return "agitate"
	case *Split:
		return "split"
	case *Heat:
		return "heat"
	case *Input:
		return "input"
	case *Output:
		return "output"
	case *Flush:
		return "flush"
	default:
		return fmt.Sprintf("%T", c)
	}
}

// shape returns an h x w request grid with no placeholders.
func shape(dims Location) *Grid {
	return Rectangle(dims.Y, dims.X)
}

// lookup fetches a live input droplet or fails with ErrDropletNotFound.
func lookup(gv *GridView, id DropletID) (*Droplet, error) {
	d, ok := gv.Droplet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrDropletNotFound, id)
	}
	return d, nil
}

// checkDimensions rejects a client footprint that is empty or that, grown by
// slack, cannot fit on the grid. It runs before any shape is allocated.
func checkDimensions(gv *GridView, dims, slack Location) error {
	if dims.Y <= 0 || dims.X <= 0 {
		return fmt.Errorf("%w: invalid dimensions %v", ErrPlace, dims)
	}
	g := gv.Grid()
	if dims.Y > g.Rows()-slack.Y || dims.X > g.Cols()-slack.X {
		return fmt.Errorf("%w: dimensions %v do not fit a %dx%d grid", ErrPlace, dims, g.Rows(), g.Cols())
	}
	return nil
}

// checkVolume rejects zero, negative, NaN and infinite volumes.
func checkVolume(v float64) error {
	if !(v > 0) || math.IsInf(v, 1) {
		return fmt.Errorf("%w: volume must be positive and finite, got %v", ErrPlace, v)
	}
	return nil
}

// reidentify swaps a droplet's id in place, keeping its location and collision group.
func reidentify(sv *GridSubView, in, out DropletID) error {
	d, ok := sv.Remove(in)
	if !ok {
		return sv.view.Err()
	}
	d.ID = out
	d.Pinned = false
	d.Destination = nil
	sv.Insert(d)
	return nil
}

func logAbort(c Command, err error) {
	logrus.Errorf("%s %v aborted: %v", CommandName(c), c.InputDroplets(), err)
}

// Create allocates a new droplet, either at a fixed location or wherever it fits.
type Create struct {
	Output     DropletID
	Volume     float64
	Location   *Location
	Dimensions Location
}

// NewCreate builds a Create. A nil loc lets the planner choose.
func NewCreate(out DropletID, volume float64, loc *Location, dims Location) *Create {
	return &Create{Output: out, Volume: volume, Location: loc, Dimensions: dims}
}

func (c *Create) command()                    {}
func (c *Create) InputDroplets() []DropletID  { return nil }
func (c *Create) OutputDroplets() []DropletID { return []DropletID{c.Output} }
func (c *Create) Bypass(*GridView) bool       { return false }
func (c *Create) PreRun(*GridSubView)         {}
func (c *Create) Finalize(*Snapshot) []Effect { return nil }
func (c *Create) Abort(err error)             { logAbort(c, err) }

func (c *Create) Request(gv *GridView) (*CommandRequest, error) {
	if err := checkDimensions(gv, c.Dimensions, Location{}); err != nil {
		return nil, err
	}
	if err := checkVolume(c.Volume); err != nil {
		return nil, err
	}
	req := &CommandRequest{Shape: shape(c.Dimensions)}
	if c.Location != nil {
		req.Trusted = true
		req.Location = *c.Location
	}
	return req, nil
}

func (c *Create) Run(sv *GridSubView) error {
	sv.Insert(NewDroplet(c.Output, c.Volume, Location{}, c.Dimensions))
	return nil
}

// Move relocates a droplet so its top-left corner lands on Destination.
type Move struct {
	Input       DropletID
	Output      DropletID
	Destination Location
}

func NewMove(in, out DropletID, dest Location) *Move {
	return &Move{Input: in, Output: out, Destination: dest}
}

func (m *Move) command()                    {}
func (m *Move) InputDroplets() []DropletID  { return []DropletID{m.Input} }
func (m *Move) OutputDroplets() []DropletID { return []DropletID{m.Output} }
func (m *Move) Bypass(*GridView) bool       { return false }
func (m *Move) PreRun(*GridSubView)         {}
func (m *Move) Finalize(*Snapshot) []Effect { return nil }
func (m *Move) Abort(err error)             { logAbort(m, err) }

func (m *Move) Request(gv *GridView) (*CommandRequest, error) {
	d, err := lookup(gv, m.Input)
	if err != nil {
		return nil, err
	}
	return &CommandRequest{
		Shape:          shape(d.Dimensions),
		InputLocations: []Location{{}},
		Trusted:        true,
		Location:       m.Destination,
	}, nil
}

func (m *Move) Run(sv *GridSubView) error {
	return reidentify(sv, m.Input, m.Output)
}

// Flush waits for one tick and reports the droplets owned by Process.
// Info is filled in by Finalize.
type Flush struct {
	Process ProcessID
	Info    []DropletInfo
	Err     error
}

func NewFlush(pid ProcessID) *Flush {
	return &Flush{Process: pid}
}

func (f *Flush) command()                    {}
func (f *Flush) InputDroplets() []DropletID  { return nil }
func (f *Flush) OutputDroplets() []DropletID { return nil }
func (f *Flush) Bypass(*GridView) bool       { return false }
func (f *Flush) PreRun(*GridSubView)         {}

func (f *Flush) Request(*GridView) (*CommandRequest, error) {
	return &CommandRequest{Shape: Rectangle(0, 0), Trusted: true}, nil
}

func (f *Flush) Run(sv *GridSubView) error {
	return sv.Tick()
}

func (f *Flush) Finalize(snap *Snapshot) []Effect {
	pid := f.Process
	f.Info = snap.DropletInfo(&pid)
	return nil
}

func (f *Flush) Abort(err error) {
	f.Err = err
	logAbort(f, err)
}
