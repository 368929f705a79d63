// Package store publishes the global droplet snapshot for external visualizers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/puddle-lab/puddle/sim"
)

// ErrNotFound is returned when nothing has been saved yet.
var ErrNotFound = errors.New("no snapshot saved")

// Frame is one published view of every droplet on the grid.
type Frame struct {
	Tick     int64             `json:"tick"`
	Droplets []sim.DropletInfo `json:"droplets"`
	SavedAt  time.Time         `json:"saved_at"`
}

// SnapshotStore keeps the latest frame plus a bounded history.
type SnapshotStore interface {
	Save(ctx context.Context, frame Frame) error
	Latest(ctx context.Context) (*Frame, error)
	// History returns up to n frames, newest first.
	History(ctx context.Context, n int) ([]Frame, error)
	Close() error
}

// DefaultHistory is how many frames a store keeps unless told otherwise.
const DefaultHistory = 256
