package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalPlacements   int
	AcceptedCount     int
	RejectedCount     int
	TrustedCount      int
	MeanCandidates    float64
	MaxCandidates     int
	TotalTicks        int
	TotalMoves        int
	CommandHistogram  map[string]int // command name → placements
	RejectionsByCause map[string]int // reason → rejected placements
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		CommandHistogram:  make(map[string]int),
		RejectionsByCause: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalPlacements = len(st.Placements)
	totalCandidates := 0
	for _, p := range st.Placements {
		summary.CommandHistogram[p.Command]++
		if p.Accepted {
			summary.AcceptedCount++
		} else {
			summary.RejectedCount++
			summary.RejectionsByCause[p.Reason]++
		}
		if p.Trusted {
			summary.TrustedCount++
		}
		totalCandidates += p.Candidates
		if p.Candidates > summary.MaxCandidates {
			summary.MaxCandidates = p.Candidates
		}
	}
	if summary.TotalPlacements > 0 {
		summary.MeanCandidates = float64(totalCandidates) / float64(summary.TotalPlacements)
	}

	summary.TotalTicks = len(st.Ticks)
	for _, t := range st.Ticks {
		summary.TotalMoves += t.Moves
	}
	return summary
}
