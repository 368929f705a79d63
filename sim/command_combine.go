package sim

import (
	"fmt"
)

const (
	// agitatePadding is the extra row and column an agitated droplet jostles into.
	agitatePadding = 1
	// splitPadding is the extra columns a split needs to push its halves apart.
	splitPadding = 4
)

// MaxAgitateLoops bounds one Agitate so a single command cannot hold the
// execution stream indefinitely.
const MaxAgitateLoops = 1000

// Combine merges two droplets into one. The combined footprint stacks Inputs[1]
// on top of Inputs[0]. With Into set, Inputs[0] is pinned and the merge happens
// where it already sits.
type Combine struct {
	Inputs [2]DropletID
	Output DropletID
	Into   bool

	combined blob
}

// NewCombine merges a and b anywhere they fit.
func NewCombine(a, b, out DropletID) *Combine {
	return &Combine{Inputs: [2]DropletID{a, b}, Output: out}
}

// NewCombineInto merges b into a without moving a.
func NewCombineInto(a, b, out DropletID) *Combine {
	return &Combine{Inputs: [2]DropletID{a, b}, Output: out, Into: true}
}

func (c *Combine) command()                    {}
func (c *Combine) InputDroplets() []DropletID  { return c.Inputs[:] }
func (c *Combine) OutputDroplets() []DropletID { return []DropletID{c.Output} }
func (c *Combine) Finalize(*Snapshot) []Effect { return nil }
func (c *Combine) Abort(err error)             { logAbort(c, err) }

// Bypass is true once the merged droplet exists and both inputs are gone.
func (c *Combine) Bypass(gv *GridView) bool {
	snap := gv.Snapshot()
	return snap.Has(c.Output) && !snap.Has(c.Inputs[0]) && !snap.Has(c.Inputs[1])
}

func (c *Combine) Request(gv *GridView) (*CommandRequest, error) {
	if c.Inputs[0] == c.Inputs[1] {
		return nil, fmt.Errorf("%w: cannot combine %v with itself", ErrPlace, c.Inputs[0])
	}
	d0, err := lookup(gv, c.Inputs[0])
	if err != nil {
		return nil, err
	}
	d1, err := lookup(gv, c.Inputs[1])
	if err != nil {
		return nil, err
	}

	c.combined = blob{
		location: d0.Location.Sub(Location{Y: d1.Dimensions.Y}),
		dimensions: Location{
			Y: d0.Dimensions.Y + d1.Dimensions.Y,
			X: max(d0.Dimensions.X, d1.Dimensions.X),
		},
		volume: d0.Volume + d1.Volume,
	}

	// Both halves must be allowed to touch while they come together.
	d0.CollisionGroup = d1.CollisionGroup

	req := &CommandRequest{
		Shape:          shape(c.combined.dimensions),
		InputLocations: []Location{{Y: d1.Dimensions.Y}, {}},
	}
	if c.Into {
		d0.Pinned = true
		req.Trusted = true
		req.Location = c.combined.location
	} else {
		hint := c.combined.location
		req.Hint = &hint
	}
	return req, nil
}

// PreRun replaces both inputs with the merged droplet ahead of the final routing tick.
func (c *Combine) PreRun(sv *GridSubView) {
	_, ok0 := sv.Remove(c.Inputs[0])
	d1, ok1 := sv.Remove(c.Inputs[1])
	if !ok0 || !ok1 {
		return
	}
	d := c.combined.toDroplet(c.Output)
	d.Location = Location{}
	d.CollisionGroup = d1.CollisionGroup
	sv.Insert(d)
}

// Run has nothing left to do; the merge was committed with the routing tick.
func (c *Combine) Run(*GridSubView) error { return nil }

// Agitate jostles a droplet south, east, north and west Loops times to mix it.
type Agitate struct {
	Input  DropletID
	Output DropletID
	Loops  int
}

func NewAgitate(in, out DropletID, loops int) *Agitate {
	return &Agitate{Input: in, Output: out, Loops: loops}
}

func (a *Agitate) command()                    {}
func (a *Agitate) InputDroplets() []DropletID  { return []DropletID{a.Input} }
func (a *Agitate) OutputDroplets() []DropletID { return []DropletID{a.Output} }
func (a *Agitate) Bypass(*GridView) bool       { return false }
func (a *Agitate) PreRun(*GridSubView)         {}
func (a *Agitate) Finalize(*Snapshot) []Effect { return nil }
func (a *Agitate) Abort(err error)             { logAbort(a, err) }

func (a *Agitate) Request(gv *GridView) (*CommandRequest, error) {
	d, err := lookup(gv, a.Input)
	if err != nil {
		return nil, err
	}
	if a.Loops < 0 || a.Loops > MaxAgitateLoops {
		return nil, fmt.Errorf("%w: loop count %d outside [0, %d]", ErrPlace, a.Loops, MaxAgitateLoops)
	}
	hint := d.Location
	return &CommandRequest{
		Shape:          shape(d.Dimensions.Add(Location{Y: agitatePadding, X: agitatePadding})),
		InputLocations: []Location{{}},
		Hint:           &hint,
	}, nil
}

func (a *Agitate) Run(sv *GridSubView) error {
	moves := []func(DropletID){sv.MoveSouth, sv.MoveEast, sv.MoveNorth, sv.MoveWest}
	for i := 0; i < a.Loops; i++ {
		for _, move := range moves {
			move(a.Input)
			if err := sv.Tick(); err != nil {
				return err
			}
		}
	}
	return reidentify(sv, a.Input, a.Output)
}

// Split halves a droplet into two droplets side by side.
type Split struct {
	Input   DropletID
	Outputs [2]DropletID
}

func NewSplit(in, out0, out1 DropletID) *Split {
	return &Split{Input: in, Outputs: [2]DropletID{out0, out1}}
}

func (s *Split) command()                    {}
func (s *Split) InputDroplets() []DropletID  { return []DropletID{s.Input} }
func (s *Split) OutputDroplets() []DropletID { return s.Outputs[:] }
func (s *Split) PreRun(*GridSubView)         {}
func (s *Split) Finalize(*Snapshot) []Effect { return nil }
func (s *Split) Abort(err error)             { logAbort(s, err) }

// Bypass is true once both halves exist and the input is gone.
func (s *Split) Bypass(gv *GridView) bool {
	snap := gv.Snapshot()
	return snap.Has(s.Outputs[0]) && snap.Has(s.Outputs[1]) && !snap.Has(s.Input)
}

func (s *Split) Request(gv *GridView) (*CommandRequest, error) {
	d, err := lookup(gv, s.Input)
	if err != nil {
		return nil, err
	}
	hint := d.Location.Sub(Location{X: splitPadding / 2})
	return &CommandRequest{
		Shape:          shape(d.Dimensions.Add(Location{X: splitPadding})),
		InputLocations: []Location{{X: splitPadding / 2}},
		Hint:           &hint,
	}, nil
}

// splitDimensions returns the two halves' footprints. The second half gets the
// extra column of an odd width; both halves are at least one column wide.
func splitDimensions(dims Location) (Location, Location) {
	return Location{Y: dims.Y, X: max(1, dims.X/2)},
		Location{Y: dims.Y, X: (dims.X + 1) / 2}
}

func (s *Split) Run(sv *GridSubView) error {
	d, ok := sv.Remove(s.Input)
	if !ok {
		return sv.view.Err()
	}
	width := d.Dimensions.X + splitPadding
	dim0, dim1 := splitDimensions(d.Dimensions)
	vol := d.Volume / 2

	sv.Insert(NewDroplet(s.Outputs[0], vol, Location{X: 1}, dim0))
	sv.Insert(NewDroplet(s.Outputs[1], vol, Location{X: width - (dim1.X + 1)}, dim1))
	if err := sv.Tick(); err != nil {
		return err
	}

	sv.MoveWest(s.Outputs[0])
	sv.MoveEast(s.Outputs[1])
	return sv.Tick()
}
