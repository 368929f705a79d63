// Tracks engine-wide statistics such as ticks, command outcomes and live droplets.

package sim

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Command outcomes used as the "outcome" label.
const (
	OutcomeCommitted = "committed"
	OutcomeBypassed  = "bypassed"
	OutcomeAborted   = "aborted"
)

// Metrics aggregates statistics about the session for final reporting and
// exports the same numbers to Prometheus.
// The plain fields are only touched from the execution goroutine.
type Metrics struct {
	Ticks             int64 // Committed ticks
	CommandsCommitted int   // Commands that ran and finalized
	CommandsBypassed  int   // Commands whose effect was already present
	CommandsAborted   int   // Commands routed to Abort
	CandidatesTried   int   // Placement offsets examined across all commands
	PeakDroplets      int   // Max number of simultaneously live droplets

	ticks     prometheus.Counter
	commands  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	droplets  prometheus.Gauge
	processes prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "puddle_ticks_total",
			Help: "Total number of committed grid ticks",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puddle_commands_total",
			Help: "Commands executed, by command and outcome",
		}, []string{"command", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "puddle_command_duration_seconds",
			Help:    "Wall time spent executing a command",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"command"}),
		droplets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puddle_droplets",
			Help: "Live droplets on the grid",
		}),
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puddle_processes",
			Help: "Open client processes",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.commands, m.durations, m.droplets, m.processes)
	}
	return m
}

func (m *Metrics) recordTick(droplets int) {
	m.Ticks++
	m.ticks.Inc()
	m.droplets.Set(float64(droplets))
	if droplets > m.PeakDroplets {
		m.PeakDroplets = droplets
	}
}

func (m *Metrics) recordCommand(name, outcome string, elapsed time.Duration) {
	switch outcome {
	case OutcomeCommitted:
		m.CommandsCommitted++
	case OutcomeBypassed:
		m.CommandsBypassed++
	case OutcomeAborted:
		m.CommandsAborted++
	}
	m.commands.WithLabelValues(name, outcome).Inc()
	m.durations.WithLabelValues(name).Observe(elapsed.Seconds())
}

// SetProcesses updates the open-process gauge.
func (m *Metrics) SetProcesses(n int) {
	m.processes.Set(float64(n))
}

// Print displays aggregated metrics at the end of a session.
func (m *Metrics) Print() {
	fmt.Println("=== Session Metrics ===")
	fmt.Printf("Ticks                : %d\n", m.Ticks)
	fmt.Printf("Commands committed   : %d\n", m.CommandsCommitted)
	fmt.Printf("Commands bypassed    : %d\n", m.CommandsBypassed)
	fmt.Printf("Commands aborted     : %d\n", m.CommandsAborted)
	fmt.Printf("Peak droplets        : %d\n", m.PeakDroplets)
	total := m.CommandsCommitted + m.CommandsAborted
	if total > 0 {
		fmt.Printf("Avg candidates/cmd   : %.2f\n", float64(m.CandidatesTried)/float64(total))
	}
}
