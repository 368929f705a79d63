package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// did builds a droplet id owned by process 1.
func did(id uint32) DropletID {
	return DropletID{ID: id, ProcessID: 1}
}

func at(y, x int) *Location {
	return &Location{Y: y, X: x}
}

var unit = Location{Y: 1, X: 1}

// newTestExecutor returns an executor over grid with a recording sink and no pacing.
func newTestExecutor(grid *Grid) (*Executor, *RecordingSink, *Metrics) {
	sink := &RecordingSink{}
	m := NewMetrics(nil)
	view := NewGridView(grid, GridViewConfig{Sink: sink, Metrics: m})
	return NewExecutor(view), sink, m
}

func mustExecute(t *testing.T, e *Executor, cmd Command) {
	t.Helper()
	require.NoError(t, e.Execute(cmd), "executing %s", CommandName(cmd))
}

func droplet(t *testing.T, e *Executor, id DropletID) *Droplet {
	t.Helper()
	d, ok := e.View().Droplet(id)
	require.True(t, ok, "droplet %v not live", id)
	return d
}
