package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puddle-lab/puddle/sim"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.FatalLevel)
	}
	os.Exit(m.Run())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_AllFields(t *testing.T) {
	// GIVEN a config file setting every section
	path := writeFile(t, "puddle.yaml", `
board: boards/lab.json
step_delay_ms: 25
listen: "127.0.0.1:9000"
trace: ticks
redis:
  addr: "localhost:6379"
  password: hunter2
  db: 3
  prefix: "lab:"
  ttl_seconds: 60
`)

	// WHEN loaded
	cfg, err := LoadConfig(path)

	// THEN every value is decoded
	require.NoError(t, err)
	assert.Equal(t, "boards/lab.json", cfg.Board)
	require.NotNil(t, cfg.StepDelayMs)
	assert.Equal(t, 25, *cfg.StepDelayMs)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "ticks", cfg.Trace)
	assert.Equal(t, RedisConfig{Addr: "localhost:6379", Password: "hunter2", DB: 3, Prefix: "lab:", TTLSeconds: 60}, cfg.Redis)
}

func TestLoadConfig_EmptyPath_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Nil(t, cfg.StepDelayMs, "pacing is left to the environment")
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadConfig_PartialFile_KeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "puddle.yaml", "trace: placements\n"))
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, "placements", cfg.Trace)
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown field", "boards: lab.json\n", "parsing config"},
		{"unknown redis field", "redis:\n  host: x\n", "parsing config"},
		{"bad trace level", "trace: verbose\n", "unknown trace level"},
		{"negative delay", "step_delay_ms: -5\n", "step_delay_ms"},
		{"negative db", "redis:\n  db: -1\n", "redis.db"},
		{"negative ttl", "redis:\n  ttl_seconds: -1\n", "redis.ttl_seconds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "puddle.yaml", tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadBoard(t *testing.T) {
	grid, err := LoadBoard("testdata/board.json")
	require.NoError(t, err)
	assert.Equal(t, 5, grid.Rows())
	assert.Len(t, grid.Peripherals(), 3)

	_, err = LoadBoard(writeFile(t, "bad.json", `{"board": [], "peripherals": {}}`))
	assert.True(t, errors.Is(err, sim.ErrParse), "got %v", err)

	_, err = LoadBoard(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func TestResolveBoard_Rectangle(t *testing.T) {
	grid, err := resolveBoard("", 4, 6)
	require.NoError(t, err)
	assert.Equal(t, 4, grid.Rows())
	assert.Equal(t, 6, grid.Cols())

	_, err = resolveBoard("", 0, 6)
	assert.Error(t, err)
}
