package triage

import "time"

// Stats is the dashboard aggregate over a set of sessions.
type Stats struct {
	Since        time.Time     `json:"since,omitempty"`
	Sessions     int           `json:"sessions"`
	ByState      map[State]int `json:"by_state"`
	ByTier       map[Tier]int  `json:"by_tier"`
	Critical     int           `json:"critical"`
	AverageScore float64       `json:"average_score"`
	Restarts     int           `json:"restarts"`

	// Truncated is set when the store could only scan part of the sessions.
	Truncated bool `json:"truncated,omitempty"`

	scored   int
	scoreSum int
}

// NewStats returns empty stats with every tier present.
func NewStats(since time.Time) *Stats {
	st := &Stats{
		Since:   since,
		ByState: make(map[State]int),
		ByTier:  make(map[Tier]int, len(Tiers)),
	}
	for _, t := range Tiers {
		st.ByTier[t] = 0
	}
	return st
}

// Add folds one session into the stats.
func (st *Stats) Add(s *Session) {
	g := Group{State: s.State, Sessions: 1, Restarts: s.Restarts}
	if s.Result != nil {
		g.Tier = s.Result.Tier
		g.Scored = 1
		g.ScoreSum = s.Result.Total
		if s.Result.HasCritical {
			g.Critical = 1
		}
	}
	st.AddGroup(g)
}

// Group is a pre-aggregated bucket of sessions sharing a state and tier.
// Tier is empty for sessions without a result.
type Group struct {
	State    State
	Tier     Tier
	Sessions int
	Scored   int
	ScoreSum int
	Critical int
	Restarts int
}

// AddGroup folds a bucket computed by a store into the stats.
func (st *Stats) AddGroup(g Group) {
	st.Sessions += g.Sessions
	st.ByState[g.State] += g.Sessions
	if g.Tier != "" {
		st.ByTier[g.Tier] += g.Sessions
	}
	st.Critical += g.Critical
	st.Restarts += g.Restarts
	st.scored += g.Scored
	st.scoreSum += g.ScoreSum
	if st.scored > 0 {
		st.AverageScore = float64(st.scoreSum) / float64(st.scored)
	}
}
