package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// CommandRequest describes where a command needs to run.
//
// Shape is a small grid whose peripherals are placeholders that must line up with
// real peripherals. InputLocations[i] is where InputDroplets()[i] must sit, relative
// to the shape. When Trusted is set, Location is the absolute top-left corner and
// no search happens. Otherwise Hint, if set, is tried before the row-major scan so
// droplets that already sit in a usable spot stay there.
type CommandRequest struct {
	Shape          *Grid
	InputLocations []Location
	Trusted        bool
	Location       Location
	Hint           *Location
}

// Dimensions returns the (height, width) of the requested region.
func (r *CommandRequest) Dimensions() Location {
	return Location{Y: r.Shape.Rows(), X: r.Shape.Cols()}
}

// Placement is the outcome of a successful search.
type Placement struct {
	Offset     Location
	Candidates int
}

// Planner maps a CommandRequest onto concrete grid coordinates.
type Planner struct {
	grid *Grid
}

// NewPlanner returns a planner for grid.
func NewPlanner(grid *Grid) *Planner {
	return &Planner{grid: grid}
}

// Place scans offsets row-major and returns the first one that fits and that accept
// approves. inputs are the droplets the command consumes; they may sit inside the region.
// It fails with ErrPlace when nothing fits and with ErrRoute when fitting offsets
// exist but accept rejected all of them. Candidates is set on failure too.
func (p *Planner) Place(req *CommandRequest, snap *Snapshot, inputs []DropletID, accept func(Location) bool) (Placement, error) {
	dims := req.Dimensions()
	if dims.Y == 0 || dims.X == 0 {
		if accept(Location{}) {
			return Placement{Candidates: 1}, nil
		}
		return Placement{Candidates: 1}, fmt.Errorf("%w: empty request rejected", ErrRoute)
	}

	consumed := make(map[DropletID]bool, len(inputs))
	for _, id := range inputs {
		consumed[id] = true
	}

	var candidates, fitting int
	try := func(offset Location) bool {
		candidates++
		if !p.fits(req, snap, consumed, offset) {
			return false
		}
		fitting++
		return accept(offset)
	}

	if req.Trusted {
		if try(req.Location) {
			return Placement{Offset: req.Location, Candidates: candidates}, nil
		}
		if fitting == 0 {
			return Placement{Candidates: candidates}, fmt.Errorf("%w: %dx%d region at %v is blocked or out of bounds", ErrPlace, dims.Y, dims.X, req.Location)
		}
		return Placement{Candidates: candidates}, fmt.Errorf("%w: inputs cannot reach %v", ErrRoute, req.Location)
	}

	if req.Hint != nil && try(*req.Hint) {
		logrus.Debugf("placed %dx%d region at hinted %v", dims.Y, dims.X, *req.Hint)
		return Placement{Offset: *req.Hint, Candidates: candidates}, nil
	}
	for y := 0; y+dims.Y <= p.grid.Rows(); y++ {
		for x := 0; x+dims.X <= p.grid.Cols(); x++ {
			offset := Location{Y: y, X: x}
			if req.Hint != nil && offset == *req.Hint {
				continue
			}
			if try(offset) {
				logrus.Debugf("placed %dx%d region at %v after %d candidates", dims.Y, dims.X, offset, candidates)
				return Placement{Offset: offset, Candidates: candidates}, nil
			}
		}
	}
	if fitting == 0 {
		return Placement{Candidates: candidates}, fmt.Errorf("%w: no free %dx%d region", ErrPlace, dims.Y, dims.X)
	}
	return Placement{Candidates: candidates}, fmt.Errorf("%w: %d regions fit but none is reachable", ErrRoute, fitting)
}

// fits checks bounds, peripheral alignment and clearance of the region at offset.
func (p *Planner) fits(req *CommandRequest, snap *Snapshot, consumed map[DropletID]bool, offset Location) bool {
	for _, loc := range req.Shape.Locations() {
		cell := p.grid.Cell(loc.Add(offset))
		if cell == nil {
			return false
		}
		want := req.Shape.Cell(loc).Peripheral
		if want == nil {
			continue
		}
		if cell.Peripheral == nil || !cell.Peripheral.Matches(*want) {
			return false
		}
	}
	region := rect{loc: offset, dim: req.Dimensions()}
	for id, d := range snap.Droplets {
		if consumed[id] {
			continue
		}
		if region.touches(d.footprint()) {
			return false
		}
	}
	return true
}
