package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// routeTarget asks for droplet id to end up with its top-left corner at dest.
type routeTarget struct {
	id   DropletID
	dest Location
}

// route is the planned single-cell path of one droplet.
type route struct {
	id   DropletID
	dest Location
	path []Location
}

// Router plans collision-free paths over a fixed grid.
type Router struct {
	grid *Grid
}

// NewRouter returns a router for grid.
func NewRouter(grid *Grid) *Router {
	return &Router{grid: grid}
}

// Plan finds paths for every target without touching the snapshot.
// Droplets are planned one after another; a droplet already planned is treated as
// resting at its destination. When the given order fails the reverse order is tried.
func (r *Router) Plan(snap *Snapshot, targets []routeTarget) ([]route, error) {
	routes, err := r.planOrdered(snap, targets)
	if err == nil || len(targets) < 2 {
		return routes, err
	}
	reversed := make([]routeTarget, len(targets))
	for i, t := range targets {
		reversed[len(targets)-1-i] = t
	}
	if routes, rerr := r.planOrdered(snap, reversed); rerr == nil {
		return routes, nil
	}
	return nil, err
}

func (r *Router) planOrdered(snap *Snapshot, targets []routeTarget) ([]route, error) {
	// positions tracks where every droplet will be once the planned routes run.
	positions := make(map[DropletID]Location, len(snap.Droplets))
	for id, d := range snap.Droplets {
		positions[id] = d.Location
	}
	routes := make([]route, 0, len(targets))
	for _, t := range targets {
		d, ok := snap.Droplets[t.id]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrDropletNotFound, t.id)
		}
		if d.Location == t.dest {
			continue
		}
		if d.Pinned {
			return nil, fmt.Errorf("%w: pinned droplet %v cannot move to %v", ErrRoute, t.id, t.dest)
		}
		path, ok := r.search(snap, positions, d, t.dest)
		if !ok {
			return nil, fmt.Errorf("%w: %v to %v", ErrRoute, t.id, t.dest)
		}
		positions[t.id] = t.dest
		routes = append(routes, route{id: t.id, dest: t.dest, path: path})
	}
	return routes, nil
}

// search runs a breadth-first search over top-left positions of d's footprint.
// Neighbors are expanded in a fixed order so equal inputs give equal paths.
func (r *Router) search(snap *Snapshot, positions map[DropletID]Location, d *Droplet, dest Location) ([]Location, bool) {
	start := d.Location
	if !r.free(snap, positions, d, dest) {
		return nil, false
	}
	parent := map[Location]Location{start: start}
	queue := []Location{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dest {
			return unwind(parent, start, dest), true
		}
		for _, dir := range directions {
			next := cur.Add(dir)
			if _, seen := parent[next]; seen {
				continue
			}
			if !r.free(snap, positions, d, next) {
				continue
			}
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	logrus.Debugf("no route for %v from %v to %v", d.ID, start, dest)
	return nil, false
}

// free reports whether d may rest with its top-left corner at loc.
func (r *Router) free(snap *Snapshot, positions map[DropletID]Location, d *Droplet, loc Location) bool {
	fp := rect{loc: loc, dim: d.Dimensions}
	for _, c := range fp.cells() {
		if r.grid.Cell(c) == nil {
			return false
		}
	}
	for id, other := range snap.Droplets {
		if id == d.ID {
			continue
		}
		ofp := rect{loc: positions[id], dim: other.Dimensions}
		if fp.overlaps(ofp) {
			return false
		}
		if other.CollisionGroup != d.CollisionGroup && fp.touches(ofp) {
			return false
		}
	}
	return true
}

// unwind turns a BFS parent map into the list of unit steps from start to dest.
func unwind(parent map[Location]Location, start, dest Location) []Location {
	var steps []Location
	for cur := dest; cur != start; {
		prev := parent[cur]
		steps = append(steps, cur.Sub(prev))
		cur = prev
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps
}
