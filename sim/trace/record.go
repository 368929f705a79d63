// Package trace provides decision-trace recording for placement and tick analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// PlacementRecord captures a single placement decision.
type PlacementRecord struct {
	Command    string
	ProcessID  uint32
	Tick       int64
	Trusted    bool
	OffsetY    int
	OffsetX    int
	// Candidates counts offsets examined before accepting or giving up.
	Candidates int
	Accepted   bool
	Reason     string
}

// TickRecord captures one committed tick.
type TickRecord struct {
	Tick       int64
	Droplets   int
	Moves      int
	ActivePins int
}
