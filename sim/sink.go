package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Frame is the electrode activation pattern committed by one tick.
// Pins is indexed by electrode pin number and has Grid.NumPins entries.
type Frame struct {
	Tick int64
	Pins []bool
}

// Active counts the energized pins.
func (f Frame) Active() int {
	n := 0
	for _, on := range f.Pins {
		if on {
			n++
		}
	}
	return n
}

// EffectKind tags a finalize-time hardware action.
type EffectKind int

const (
	EffectHeat EffectKind = iota
	EffectInput
	EffectOutput
)

func (k EffectKind) String() string {
	switch k {
	case EffectHeat:
		return "heat"
	case EffectInput:
		return "input"
	case EffectOutput:
		return "output"
	default:
		return fmt.Sprintf("EffectKind(%d)", int(k))
	}
}

// Effect is an external action a command asks for once its ticks have committed.
type Effect struct {
	Kind        EffectKind
	Peripheral  Peripheral
	Temperature float64       // heat only
	Duration    time.Duration // heat only
	Volume      float64       // input and output
}

// Sink is the hardware boundary. Activate is called once per tick; the rest only at finalize.
type Sink interface {
	Activate(frame Frame) error
	Heat(heater Peripheral, temperature float64, duration time.Duration) error
	Input(port Peripheral, volume float64) error
	Output(port Peripheral, volume float64) error
}

// Apply dispatches e to the matching sink call.
func Apply(s Sink, e Effect) error {
	switch e.Kind {
	case EffectHeat:
		return s.Heat(e.Peripheral, e.Temperature, e.Duration)
	case EffectInput:
		return s.Input(e.Peripheral, e.Volume)
	case EffectOutput:
		return s.Output(e.Peripheral, e.Volume)
	default:
		return fmt.Errorf("unknown effect kind %v", e.Kind)
	}
}

// NopSink discards everything; it is the simulation-mode sink.
type NopSink struct{}

func (NopSink) Activate(Frame) error                          { return nil }
func (NopSink) Heat(Peripheral, float64, time.Duration) error { return nil }
func (NopSink) Input(Peripheral, float64) error               { return nil }
func (NopSink) Output(Peripheral, float64) error              { return nil }

// LogSink logs every call at debug level (frames) or info level (effects).
type LogSink struct{}

func (LogSink) Activate(f Frame) error {
	logrus.Debugf("[tick %07d] activate %d/%d pins", f.Tick, f.Active(), len(f.Pins))
	return nil
}

func (LogSink) Heat(h Peripheral, temperature float64, d time.Duration) error {
	logrus.Infof("heat %v to %.1fC for %v", h, temperature, d)
	return nil
}

func (LogSink) Input(p Peripheral, volume float64) error {
	logrus.Infof("input %.3f from %v", volume, p)
	return nil
}

func (LogSink) Output(p Peripheral, volume float64) error {
	logrus.Infof("output %.3f to %v", volume, p)
	return nil
}

// RecordingSink keeps every frame and effect. Fail, when set, is returned from effect calls.
type RecordingSink struct {
	mu      sync.Mutex
	Frames  []Frame
	Effects []Effect
	Fail    error
}

func (r *RecordingSink) Activate(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Frames = append(r.Frames, f)
	return nil
}

func (r *RecordingSink) record(e Effect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.Effects = append(r.Effects, e)
	return nil
}

func (r *RecordingSink) Heat(h Peripheral, temperature float64, d time.Duration) error {
	return r.record(Effect{Kind: EffectHeat, Peripheral: h, Temperature: temperature, Duration: d})
}

func (r *RecordingSink) Input(p Peripheral, volume float64) error {
	return r.record(Effect{Kind: EffectInput, Peripheral: p, Volume: volume})
}

func (r *RecordingSink) Output(p Peripheral, volume float64) error {
	return r.record(Effect{Kind: EffectOutput, Peripheral: p, Volume: volume})
}

// Snapshot returns copies of the recorded frames and effects.
func (r *RecordingSink) Snapshot() ([]Frame, []Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.Frames...), append([]Effect(nil), r.Effects...)
}
