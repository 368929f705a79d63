package sim

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordTickAndCommand(t *testing.T) {
	// GIVEN metrics registered on a fresh registry
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// WHEN ticks and commands are recorded
	m.recordTick(2)
	m.recordTick(5)
	m.recordTick(3)
	m.recordCommand("mix", OutcomeCommitted, time.Millisecond)
	m.recordCommand("mix", OutcomeAborted, time.Millisecond)
	m.recordCommand("split", OutcomeBypassed, 0)
	m.SetProcesses(4)

	// THEN plain counters and collectors agree
	assert.Equal(t, int64(3), m.Ticks)
	assert.Equal(t, 5, m.PeakDroplets)
	assert.Equal(t, 1, m.CommandsCommitted)
	assert.Equal(t, 1, m.CommandsAborted)
	assert.Equal(t, 1, m.CommandsBypassed)
	assert.Equal(t, 3.0, promtest.ToFloat64(m.ticks))
	assert.Equal(t, 3.0, promtest.ToFloat64(m.droplets), "gauge tracks the latest tick")
	assert.Equal(t, 4.0, promtest.ToFloat64(m.processes))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.commands.WithLabelValues("mix", OutcomeAborted)))

	count, err := promtest.GatherAndCount(reg, "puddle_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestNewMetrics_NilRegistererSkipsRegistration(t *testing.T) {
	// Two unregistered instances must not collide.
	assert.NotPanics(t, func() {
		NewMetrics(nil)
		NewMetrics(nil)
	})
}

func TestMetrics_Print_WritesToStdout(t *testing.T) {
	m := NewMetrics(nil)
	m.recordTick(1)
	m.recordCommand("create", OutcomeCommitted, 0)
	m.CandidatesTried = 3

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	m.Print()

	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	output := buf.String()

	assert.Contains(t, output, "Session Metrics")
	assert.Contains(t, output, "Commands committed   : 1")
	assert.Contains(t, output, "Avg candidates/cmd   : 3.00")
}
