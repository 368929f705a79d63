package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/puddle-lab/puddle/sim"
	"github.com/puddle-lab/puddle/sim/manager"
	"github.com/puddle-lab/puddle/sim/store"
	"github.com/puddle-lab/puddle/sim/trace"
)

const (
	defaultRows   = 10
	defaultCols   = 10
	defaultListen = ":8080"
	redisTimeout  = 2 * time.Second
)

// Config is the session config file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Board       string      `yaml:"board"`
	StepDelayMs *int        `yaml:"step_delay_ms"` // nil defers to PUDDLE_STEP_DELAY_MS
	Listen      string      `yaml:"listen"`
	Trace       string      `yaml:"trace"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig enables snapshot publishing when Addr is set.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// DefaultConfig is used when no config file is given.
func DefaultConfig() *Config {
	return &Config{Listen: defaultListen}
}

// LoadConfig reads and strictly decodes a config file. An empty path returns DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no session could run with.
func (c *Config) Validate() error {
	if !trace.IsValidTraceLevel(c.Trace) {
		return fmt.Errorf("unknown trace level %q", c.Trace)
	}
	if c.StepDelayMs != nil && *c.StepDelayMs < 0 {
		return fmt.Errorf("step_delay_ms must be non-negative, got %d", *c.StepDelayMs)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be non-negative, got %d", c.Redis.DB)
	}
	if c.Redis.TTLSeconds < 0 {
		return fmt.Errorf("redis.ttl_seconds must be non-negative, got %d", c.Redis.TTLSeconds)
	}
	return nil
}

// LoadBoard reads a board description file.
func LoadBoard(path string) (*sim.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading board: %w", err)
	}
	defer f.Close()
	grid, err := sim.FromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parsing board %s: %w", path, err)
	}
	return grid, nil
}

// resolveBoard loads path or, when it is empty, builds a rows x cols rectangle.
func resolveBoard(path string, rows, cols int) (*sim.Grid, error) {
	if path != "" {
		return LoadBoard(path)
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("board dimensions must be positive, got %dx%d", rows, cols)
	}
	return sim.Rectangle(rows, cols), nil
}

// session bundles a running manager with the collectors and store it reports to.
type session struct {
	manager  *manager.Manager
	metrics  *sim.Metrics
	trace    *trace.SimulationTrace
	registry *prometheus.Registry
	store    store.SnapshotStore
}

// newSession starts a manager over grid. fallback is used as the snapshot store
// when no Redis address is configured; it may be nil.
func newSession(cfg *Config, grid *sim.Grid, fallback store.SnapshotStore) (*session, error) {
	s := &session{
		registry: prometheus.NewRegistry(),
		trace:    trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(cfg.Trace)}),
		store:    fallback,
	}
	s.metrics = sim.NewMetrics(s.registry)

	if cfg.Redis.Addr != "" {
		opts := []store.Option{store.WithTTL(time.Duration(cfg.Redis.TTLSeconds) * time.Second)}
		if cfg.Redis.Prefix != "" {
			opts = append(opts, store.WithPrefix(cfg.Redis.Prefix))
		}
		rs := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logrus.Infof("publishing snapshots to redis at %s", cfg.Redis.Addr)
		s.store = rs
	}

	opts := []manager.Option{
		manager.WithSink(sim.LogSink{}),
		manager.WithMetrics(s.metrics),
		manager.WithTrace(s.trace),
	}
	if s.store != nil {
		opts = append(opts, manager.WithStore(s.store))
	}
	if cfg.StepDelayMs != nil {
		opts = append(opts, manager.WithStepDelay(time.Duration(*cfg.StepDelayMs)*time.Millisecond))
	}
	s.manager = manager.New(grid, opts...)
	return s, nil
}

// Close stops the manager before releasing the store it publishes to.
func (s *session) Close() {
	s.manager.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logrus.Warnf("closing snapshot store: %v", err)
		}
	}
}
