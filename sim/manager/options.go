package manager

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/puddle-lab/puddle/sim"
	"github.com/puddle-lab/puddle/sim/store"
	"github.com/puddle-lab/puddle/sim/trace"
)

// StepDelayEnv overrides the pause between ticks, in milliseconds.
const StepDelayEnv = "PUDDLE_STEP_DELAY_MS"

// DefaultStepDelay paces ticks when neither an option nor StepDelayEnv is set.
const DefaultStepDelay = 100 * time.Millisecond

const defaultQueueSize = 64

type config struct {
	sink      sim.Sink
	stepDelay *time.Duration
	metrics   *sim.Metrics
	trace     *trace.SimulationTrace
	store     store.SnapshotStore
	queueSize int
}

// Option configures a Manager.
type Option func(*config)

// WithSink sets the hardware sink. The default discards everything.
func WithSink(s sim.Sink) Option {
	return func(c *config) {
		c.sink = s
	}
}

// WithStepDelay fixes the pause between ticks and ignores StepDelayEnv.
func WithStepDelay(d time.Duration) Option {
	return func(c *config) {
		c.stepDelay = &d
	}
}

// WithMetrics records engine metrics.
func WithMetrics(m *sim.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithTrace records placement and tick decisions.
func WithTrace(st *trace.SimulationTrace) Option {
	return func(c *config) {
		c.trace = st
	}
}

// WithStore publishes every post-command snapshot to s.
func WithStore(s store.SnapshotStore) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithQueueSize sets how many submissions may wait for the execution goroutine.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// stepDelayFromEnv reads StepDelayEnv once. Unset or invalid values fall back to DefaultStepDelay.
func stepDelayFromEnv() time.Duration {
	raw, ok := os.LookupEnv(StepDelayEnv)
	if !ok || raw == "" {
		return DefaultStepDelay
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		logrus.Warnf("ignoring %s=%q: expected a non-negative integer", StepDelayEnv, raw)
		return DefaultStepDelay
	}
	return time.Duration(ms) * time.Millisecond
}
