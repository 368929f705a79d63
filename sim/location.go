package sim

import "fmt"

// Location is a (row, column) pair on the electrode grid.
// It doubles as a relative offset and as a (height, width) dimension.
type Location struct {
	Y int `json:"y" yaml:"y"`
	X int `json:"x" yaml:"x"`
}

// Add returns the component-wise sum l + o.
func (l Location) Add(o Location) Location {
	return Location{Y: l.Y + o.Y, X: l.X + o.X}
}

// Sub returns the component-wise difference l - o.
func (l Location) Sub(o Location) Location {
	return Location{Y: l.Y - o.Y, X: l.X - o.X}
}

func (l Location) String() string {
	return fmt.Sprintf("(%d, %d)", l.Y, l.X)
}

// Unit steps used by single-cell moves.
var (
	North = Location{Y: -1, X: 0}
	South = Location{Y: 1, X: 0}
	East  = Location{Y: 0, X: 1}
	West  = Location{Y: 0, X: -1}
)

// directions is the fixed neighbor order used by routing; it keeps BFS deterministic.
var directions = []Location{North, West, South, East}

// rect is an axis-aligned footprint on the grid.
type rect struct {
	loc Location
	dim Location
}

func (r rect) bottom() int { return r.loc.Y + r.dim.Y }
func (r rect) right() int  { return r.loc.X + r.dim.X }

// overlaps reports whether two footprints share at least one cell.
func (r rect) overlaps(o rect) bool {
	return r.loc.Y < o.bottom() && o.loc.Y < r.bottom() &&
		r.loc.X < o.right() && o.loc.X < r.right()
}

// touches reports whether two footprints share a cell or an edge/diagonal neighbor.
func (r rect) touches(o rect) bool {
	grown := rect{
		loc: r.loc.Sub(Location{Y: 1, X: 1}),
		dim: r.dim.Add(Location{Y: 2, X: 2}),
	}
	return grown.overlaps(o)
}

// cells enumerates the footprint row-major.
func (r rect) cells() []Location {
	out := make([]Location, 0, r.dim.Y*r.dim.X)
	for y := 0; y < r.dim.Y; y++ {
		for x := 0; x < r.dim.X; x++ {
			out = append(out, r.loc.Add(Location{Y: y, X: x}))
		}
	}
	return out
}
