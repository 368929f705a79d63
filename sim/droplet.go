package sim

import "fmt"

// ProcessID scopes a client's droplet namespace.
type ProcessID uint32

// DropletID is unique within a session and never reused while the droplet is live.
type DropletID struct {
	ID        uint32    `json:"id" yaml:"id"`
	ProcessID ProcessID `json:"process_id" yaml:"process_id"`
}

func (id DropletID) String() string {
	return fmt.Sprintf("d%d.p%d", id.ID, id.ProcessID)
}

// Droplet is the live record of one droplet on the grid.
type Droplet struct {
	ID         DropletID
	Location   Location // top-left of the footprint
	Dimensions Location
	Volume     float64

	// Destination is set while the router is moving the droplet.
	Destination *Location

	// CollisionGroup 0 means "unassigned"; the snapshot hands out a fresh group on insert.
	CollisionGroup int

	// Pinned droplets are never moved by the router.
	Pinned bool
}

// NewDroplet returns a droplet without a collision group.
func NewDroplet(id DropletID, volume float64, loc, dims Location) *Droplet {
	return &Droplet{
		ID:         id,
		Location:   loc,
		Dimensions: dims,
		Volume:     volume,
	}
}

func (d *Droplet) footprint() rect {
	return rect{loc: d.Location, dim: d.Dimensions}
}

func (d *Droplet) clone() *Droplet {
	c := *d
	if d.Destination != nil {
		dest := *d.Destination
		c.Destination = &dest
	}
	return &c
}

// Info returns the client-visible view of the droplet.
func (d *Droplet) Info() DropletInfo {
	return DropletInfo{
		ID:         d.ID,
		Location:   d.Location,
		Dimensions: d.Dimensions,
		Volume:     d.Volume,
	}
}

func (d *Droplet) String() string {
	return fmt.Sprintf("%v@%v[%dx%d vol=%.3f cg=%d]", d.ID, d.Location, d.Dimensions.Y, d.Dimensions.X, d.Volume, d.CollisionGroup)
}

// DropletInfo is what flush and the visualizer report.
type DropletInfo struct {
	ID         DropletID `json:"id"`
	Location   Location  `json:"location"`
	Dimensions Location  `json:"dimensions"`
	Volume     float64   `json:"volume"`
}

// blob is a droplet shape not yet bound to an id.
type blob struct {
	location   Location
	dimensions Location
	volume     float64
}

func (b blob) toDroplet(id DropletID) *Droplet {
	return NewDroplet(id, b.volume, b.location, b.dimensions)
}
