package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puddle-lab/puddle/sim"
	"github.com/puddle-lab/puddle/sim/manager"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.FatalLevel)
	}
	os.Exit(m.Run())
}

const mixScript = `
version: "1"
processes:
  - name: mixer
    steps:
      - op: create
        as: a
        location: {y: 1, x: 1}
        volume: 1
      - op: create
        as: b
        location: {y: 1, x: 5}
        volume: 2.5
      - op: mix
        as: ab
        a: a
        b: b
      - op: split
        droplet: ab
        into: [left, right]
      - op: move
        droplet: left
        as: parked
        location: {y: 8, x: 0}
  - name: bystander
    steps:
      - op: create
        as: lone
        location: {y: 8, x: 8}
        volume: 1
      - op: agitate
        droplet: lone
        loops: 2
      - op: flush
`

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	m := manager.New(sim.Rectangle(10, 10), manager.WithStepDelay(0))
	t.Cleanup(m.Close)
	return m
}

func TestParseScript_InlineParams(t *testing.T) {
	s, err := ParseScript(strings.NewReader(mixScript))
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	require.Len(t, s.Processes, 2)
	first := s.Processes[0].Steps[0]
	assert.Equal(t, "create", first.Op)
	assert.Equal(t, "a", first.As)
	assert.Contains(t, first.Params, "location")
	assert.Contains(t, first.Params, "volume")
}

func TestRun_ConcurrentProcesses(t *testing.T) {
	// GIVEN a script with a mixing process and a bystander
	s, err := ParseScript(strings.NewReader(mixScript))
	require.NoError(t, err)
	m := newTestManager(t)

	// WHEN it runs
	results, err := Run(context.Background(), m, s)

	// THEN both processes finish every step
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 5, results[0].Steps)
	assert.Equal(t, 3, results[1].Steps)

	// AND the mixer ends with two halves of 1.75 each, one parked at (8, 0)
	require.Len(t, results[0].Droplets, 2)
	var total float64
	var parked bool
	for _, d := range results[0].Droplets {
		total += d.Volume
		assert.InDelta(t, 1.75, d.Volume, 1e-9)
		parked = parked || d.Location == sim.Location{Y: 8, X: 0}
	}
	assert.InDelta(t, 3.5, total, 1e-9)
	assert.True(t, parked)
	require.Len(t, results[1].Droplets, 1)

	// AND the processes were closed afterwards
	assert.Empty(t, m.Processes())
}

func TestRun_StepFailure_StopsOnlyThatProcess(t *testing.T) {
	doc := `
processes:
  - name: greedy
    steps:
      - op: create
        as: a
        location: {y: 0, x: 0}
        volume: 1
      - op: create
        as: b
        location: {y: 0, x: 1}
        volume: 1
      - op: flush
  - name: fine
    steps:
      - op: create
        location: {y: 6, x: 6}
        volume: 1
`
	s, err := ParseScript(strings.NewReader(doc))
	require.NoError(t, err)
	m := newTestManager(t)

	results, err := Run(context.Background(), m, s)

	require.Error(t, err)
	assert.True(t, errors.Is(err, sim.ErrPlace), "got %v", err)
	assert.Equal(t, 1, results[0].Steps)
	assert.True(t, errors.Is(results[0].Err, sim.ErrPlace))
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Steps)
}

func TestRun_CancelledContext(t *testing.T) {
	s, err := ParseScript(strings.NewReader(mixScript))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := Run(ctx, newTestManager(t), s)

	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Zero(t, results[0].Steps)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no processes", `processes: []`, "at least one process"},
		{"bad version", "version: \"9\"\nprocesses: [{name: p, steps: []}]", "unknown script version"},
		{"missing name", `processes: [{steps: []}]`, "name required"},
		{"duplicate name", `processes: [{name: p, steps: []}, {name: p, steps: []}]`, "duplicate name"},
		{"unknown op", `processes: [{name: p, steps: [{op: teleport}]}]`, "unknown op"},
		{"unknown param", `processes: [{name: p, steps: [{op: create, volume: 1, colour: red}]}]`, "bad parameters"},
		{"unbound droplet", `processes: [{name: p, steps: [{op: heat, droplet: x, temperature: 50, seconds: 1}]}]`, "not bound"},
		{"consumed droplet", `processes: [{name: p, steps: [{op: create, as: a, volume: 1}, {op: agitate, droplet: a}, {op: flush}, {op: agitate, droplet: a}]}]`, "not bound"},
		{"self mix", `processes: [{name: p, steps: [{op: create, as: a, volume: 1}, {op: mix, a: a, b: a}]}]`, "itself"},
		{"split arity", `processes: [{name: p, steps: [{op: create, as: a, volume: 1}, {op: split, droplet: a, into: [x]}]}]`, "exactly two"},
		{"input without substance", `processes: [{name: p, steps: [{op: input, volume: 1}]}]`, "substance required"},
		{"too many agitate loops", `processes: [{name: p, steps: [{op: create, as: a, volume: 1}, {op: agitate, droplet: a, loops: 1000000000}]}]`, "loops must be in"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScript(strings.NewReader(tt.doc))
			require.NoError(t, err)
			err = s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScript_UnknownTopLevelField(t *testing.T) {
	_, err := ParseScript(strings.NewReader("processes: []\nseed: 4\n"))
	assert.Error(t, err)
}

func TestLoadScript_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mixScript), 0o644))

	s, err := LoadScript(path)
	require.NoError(t, err)
	assert.Len(t, s.Processes, 2)

	_, err = LoadScript(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
