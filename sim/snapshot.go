package sim

import "sort"

// Snapshot is every live droplet plus the commands awaiting finalization.
// It is owned by a single GridView and only mutated while a command executes.
type Snapshot struct {
	Droplets map[DropletID]*Droplet

	// CommandsToFinalize is drained by the executor after the command's last tick.
	CommandsToFinalize FinalizeQueue

	nextGroup int
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Droplets: make(map[DropletID]*Droplet)}
}

// newCollisionGroup hands out a group id never used before in this session.
func (s *Snapshot) newCollisionGroup() int {
	s.nextGroup++
	return s.nextGroup
}

// Has reports whether id is live.
func (s *Snapshot) Has(id DropletID) bool {
	_, ok := s.Droplets[id]
	return ok
}

// DropletInfo lists live droplets sorted by id. A nil pid selects every process.
func (s *Snapshot) DropletInfo(pid *ProcessID) []DropletInfo {
	out := make([]DropletInfo, 0, len(s.Droplets))
	for id, d := range s.Droplets {
		if pid != nil && id.ProcessID != *pid {
			continue
		}
		out = append(out, d.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID, out[j].ID
		if a.ProcessID != b.ProcessID {
			return a.ProcessID < b.ProcessID
		}
		return a.ID < b.ID
	})
	return out
}

// cloneDroplets deep-copies the droplet map so an aborted command can be rolled back.
func (s *Snapshot) cloneDroplets() map[DropletID]*Droplet {
	out := make(map[DropletID]*Droplet, len(s.Droplets))
	for id, d := range s.Droplets {
		out[id] = d.clone()
	}
	return out
}

// sortedDroplets returns droplets in id order; iteration over the map is not deterministic.
func (s *Snapshot) sortedDroplets() []*Droplet {
	out := make([]*Droplet, 0, len(s.Droplets))
	for _, d := range s.Droplets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID, out[j].ID
		if a.ProcessID != b.ProcessID {
			return a.ProcessID < b.ProcessID
		}
		return a.ID < b.ID
	})
	return out
}
