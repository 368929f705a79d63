package sim

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/puddle-lab/puddle/sim/trace"
)

// GridViewConfig carries the collaborators a GridView reports to.
// A nil Sink is replaced by NopSink; nil Metrics and Trace disable recording.
type GridViewConfig struct {
	Sink      Sink
	StepDelay time.Duration
	Metrics   *Metrics
	Trace     *trace.SimulationTrace
}

// GridView is the execution surface commands act on. It owns the Snapshot.
//
// Insert and Remove apply immediately; single-step moves accumulate until Tick,
// which validates the whole grid before committing. A failed validation is sticky:
// every later Tick returns the same error.
type GridView struct {
	grid     *Grid
	snapshot *Snapshot
	cfg      GridViewConfig

	tick  int64
	moved map[DropletID]bool
	dirty bool
	err   error
}

// NewGridView returns an empty view over grid.
func NewGridView(grid *Grid, cfg GridViewConfig) *GridView {
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	return &GridView{
		grid:     grid,
		snapshot: NewSnapshot(),
		cfg:      cfg,
		moved:    make(map[DropletID]bool),
	}
}

// Grid returns the static topology.
func (gv *GridView) Grid() *Grid { return gv.grid }

// Snapshot returns the live snapshot. Callers outside the execution goroutine
// must use Snapshot.DropletInfo on a copy published by the manager instead.
func (gv *GridView) Snapshot() *Snapshot { return gv.snapshot }

// CurrentTick is the number of committed ticks.
func (gv *GridView) CurrentTick() int64 { return gv.tick }

// Err returns the sticky collision error, if any.
func (gv *GridView) Err() error { return gv.err }

// Droplet returns the live droplet with the given id.
func (gv *GridView) Droplet(id DropletID) (*Droplet, bool) {
	d, ok := gv.snapshot.Droplets[id]
	return d, ok
}

func (gv *GridView) fail(format string, args ...any) {
	if gv.err != nil {
		return
	}
	gv.err = fmt.Errorf("%w: tick %d: %s", ErrCollision, gv.tick+1, fmt.Sprintf(format, args...))
	logrus.Errorf("[tick %07d] %v", gv.tick, gv.err)
}

// insert adds d to the snapshot, handing out a fresh collision group when d has none.
func (gv *GridView) insert(d *Droplet) {
	if _, dup := gv.snapshot.Droplets[d.ID]; dup {
		gv.fail("droplet %v inserted twice", d.ID)
		return
	}
	if d.CollisionGroup == 0 {
		d.CollisionGroup = gv.snapshot.newCollisionGroup()
	}
	gv.snapshot.Droplets[d.ID] = d
	gv.dirty = true
}

func (gv *GridView) remove(id DropletID) (*Droplet, bool) {
	d, ok := gv.snapshot.Droplets[id]
	if !ok {
		gv.fail("droplet %v removed but not live", id)
		return nil, false
	}
	delete(gv.snapshot.Droplets, id)
	delete(gv.moved, id)
	gv.dirty = true
	return d, true
}

// step moves a droplet one cell. At most one step per droplet is allowed per tick.
func (gv *GridView) step(id DropletID, dir Location) {
	d, ok := gv.snapshot.Droplets[id]
	if !ok {
		gv.fail("droplet %v moved but not live", id)
		return
	}
	if gv.moved[id] {
		gv.fail("droplet %v moved twice in one tick", id)
		return
	}
	d.Location = d.Location.Add(dir)
	gv.moved[id] = true
	gv.dirty = true
}

// validate checks that every footprint sits on electrodes, that no two droplets
// overlap, and that droplets of different collision groups do not touch.
func (gv *GridView) validate() error {
	droplets := gv.snapshot.sortedDroplets()
	for _, d := range droplets {
		if d.Dimensions.Y <= 0 || d.Dimensions.X <= 0 {
			return fmt.Errorf("droplet %v has empty footprint", d)
		}
		for _, c := range d.footprint().cells() {
			if gv.grid.Cell(c) == nil {
				return fmt.Errorf("droplet %v leaves the grid at %v", d, c)
			}
		}
	}
	for i, a := range droplets {
		for _, b := range droplets[i+1:] {
			if a.footprint().overlaps(b.footprint()) {
				return fmt.Errorf("droplets %v and %v overlap", a, b)
			}
			if a.CollisionGroup != b.CollisionGroup && a.footprint().touches(b.footprint()) {
				return fmt.Errorf("droplets %v and %v are too close", a, b)
			}
		}
	}
	return nil
}

// frame builds the activation pattern: every electrode under a droplet is energized.
func (gv *GridView) frame() Frame {
	f := Frame{Tick: gv.tick, Pins: make([]bool, gv.grid.NumPins())}
	for _, d := range gv.snapshot.Droplets {
		for _, c := range d.footprint().cells() {
			if e := gv.grid.Cell(c); e != nil && e.Pin < len(f.Pins) {
				f.Pins[e.Pin] = true
			}
		}
	}
	return f
}

// Tick validates and commits everything issued since the last tick.
func (gv *GridView) Tick() error {
	if gv.err != nil {
		return gv.err
	}
	if err := gv.validate(); err != nil {
		gv.fail("%v", err)
		return gv.err
	}
	gv.tick++
	moves := len(gv.moved)
	gv.moved = make(map[DropletID]bool)
	gv.dirty = false

	f := gv.frame()
	if err := gv.cfg.Sink.Activate(f); err != nil {
		logrus.Warnf("[tick %07d] sink activation failed: %v", gv.tick, err)
	}
	n := len(gv.snapshot.Droplets)
	if gv.cfg.Metrics != nil {
		gv.cfg.Metrics.recordTick(n)
	}
	gv.cfg.Trace.RecordTick(trace.TickRecord{
		Tick:       gv.tick,
		Droplets:   n,
		Moves:      moves,
		ActivePins: f.Active(),
	})
	logrus.Debugf("[tick %07d] committed: %d droplets, %d moves", gv.tick, n, moves)

	if gv.cfg.StepDelay > 0 {
		time.Sleep(gv.cfg.StepDelay)
	}
	return nil
}

// subView returns a view translated by offset.
func (gv *GridView) subView(offset Location) *GridSubView {
	return &GridSubView{view: gv, offset: offset}
}

// GridSubView is the window a command runs in. All locations are relative to
// the placed region's top-left corner.
type GridSubView struct {
	view   *GridView
	offset Location
}

// Offset is the absolute location of the region's top-left corner.
func (sv *GridSubView) Offset() Location { return sv.offset }

// Electrode returns the electrode at a relative location.
func (sv *GridSubView) Electrode(loc Location) *Electrode {
	return sv.view.grid.Cell(loc.Add(sv.offset))
}

// Get returns a copy of the live droplet with its location made relative.
func (sv *GridSubView) Get(id DropletID) (*Droplet, bool) {
	d, ok := sv.view.snapshot.Droplets[id]
	if !ok {
		return nil, false
	}
	c := d.clone()
	c.Location = c.Location.Sub(sv.offset)
	return c, true
}

// Insert adds d; d.Location is relative to the region.
func (sv *GridSubView) Insert(d *Droplet) {
	d.Location = d.Location.Add(sv.offset)
	sv.view.insert(d)
}

// Remove takes a droplet off the grid and returns it with a relative location.
func (sv *GridSubView) Remove(id DropletID) (*Droplet, bool) {
	d, ok := sv.view.remove(id)
	if !ok {
		return nil, false
	}
	d.Location = d.Location.Sub(sv.offset)
	return d, true
}

func (sv *GridSubView) MoveNorth(id DropletID) { sv.view.step(id, North) }
func (sv *GridSubView) MoveSouth(id DropletID) { sv.view.step(id, South) }
func (sv *GridSubView) MoveEast(id DropletID)  { sv.view.step(id, East) }
func (sv *GridSubView) MoveWest(id DropletID)  { sv.view.step(id, West) }

// Tick commits the pending changes of the whole grid.
func (sv *GridSubView) Tick() error { return sv.view.Tick() }
