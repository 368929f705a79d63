package cmd

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puddle-lab/puddle/sim/script"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log", "fatal"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRunCmd_ScriptWithBoardAndRedis(t *testing.T) {
	// GIVEN a protocol on a board with ports and a heater, and a Redis to publish to
	mr := miniredis.RunT(t)

	// WHEN the script is run
	out, err := execute(t, "run", "testdata/protocol.yaml",
		"--step-delay-ms", "0", "--trace", "placements", "--redis-addr", mr.Addr())

	// THEN every step succeeds and the drained droplet is gone
	require.NoError(t, err, out)
	assert.Contains(t, out, "=== Processes ===")
	assert.Contains(t, out, "steps=3")
	assert.Contains(t, out, "droplets=0")
	assert.Contains(t, out, "=== Trace Summary ===")

	// AND snapshots were published under the default prefix
	assert.True(t, mr.Exists("puddle:latest"))
	assert.True(t, mr.Exists("puddle:history"))
}

func TestRunCmd_StepFailureIsReturned(t *testing.T) {
	// GIVEN a script that asks for a port the default board lacks
	path := writeFile(t, "dry.yaml", `
processes:
  - name: thirsty
    steps:
      - op: input
        substance: water
        volume: 1
`)

	out, err := execute(t, "run", path, "--step-delay-ms", "0")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "thirsty")
	assert.Contains(t, out, "steps=0")
}

func TestRunCmd_UnreachableRedis(t *testing.T) {
	_, err := execute(t, "run", "testdata/protocol.yaml", "--step-delay-ms", "0", "--redis-addr", "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to redis")
}

func TestRootCmd_InvalidLogLevel(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--log", "loud", "validate"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestValidateCmd(t *testing.T) {
	t.Run("script resolves its own board", func(t *testing.T) {
		out, err := execute(t, "validate", "testdata/protocol.yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "1 processes ok")
		assert.Contains(t, out, "board: 5x5, 25 pins, 3 peripherals")
	})
	t.Run("default rectangle", func(t *testing.T) {
		out, err := execute(t, "validate", "--rows", "3", "--cols", "7")
		require.NoError(t, err)
		assert.Contains(t, out, "board: 3x7, 21 pins, 0 peripherals")
	})
	t.Run("flag overrides config", func(t *testing.T) {
		// GIVEN a config naming a board that does not exist
		cfg := writeFile(t, "puddle.yaml", "board: nowhere.json\n")

		// WHEN --board points at a real one
		out, err := execute(t, "validate", "--config", cfg, "--board", "testdata/board.json")

		// THEN the flag wins
		require.NoError(t, err)
		assert.Contains(t, out, "board: 5x5")
	})
	t.Run("config board is used", func(t *testing.T) {
		cfg := writeFile(t, "puddle.yaml", "board: nowhere.json\n")
		_, err := execute(t, "validate", "--config", cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading board")
	})
	t.Run("invalid script", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "processes:\n  - name: p\n    steps:\n      - op: teleport\n")
		_, err := execute(t, "validate", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "teleport")
	})
}

func TestScriptBoard_RelativeToScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")

	assert.Equal(t, filepath.Join(dir, "b.json"), scriptBoard(path, scriptWithBoard("b.json")))
	assert.Equal(t, "/abs/b.json", scriptBoard(path, scriptWithBoard("/abs/b.json")))
	assert.Empty(t, scriptBoard(path, scriptWithBoard("")))
}

func scriptWithBoard(board string) *script.Script {
	return &script.Script{Board: board}
}

func TestServe_StopsOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
