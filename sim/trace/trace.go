package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelPlacements captures every placement decision.
	TraceLevelPlacements TraceLevel = "placements"
	// TraceLevelTicks captures placement decisions and every committed tick.
	TraceLevelTicks TraceLevel = "ticks"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:       true,
	TraceLevelPlacements: true,
	TraceLevelTicks:      true,
	"":                   true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during a session.
type SimulationTrace struct {
	Config     TraceConfig
	Placements []PlacementRecord
	Ticks      []TickRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:     config,
		Placements: make([]PlacementRecord, 0),
		Ticks:      make([]TickRecord, 0),
	}
}

// RecordPlacement appends a placement decision record.
// No-op for a nil trace or level none.
func (st *SimulationTrace) RecordPlacement(record PlacementRecord) {
	if st == nil || st.Config.Level == TraceLevelNone || st.Config.Level == "" {
		return
	}
	st.Placements = append(st.Placements, record)
}

// RecordTick appends a tick record. Only kept at level ticks.
func (st *SimulationTrace) RecordTick(record TickRecord) {
	if st == nil || st.Config.Level != TraceLevelTicks {
		return
	}
	st.Ticks = append(st.Ticks, record)
}
