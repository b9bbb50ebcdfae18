package session

// State is a coordinator lifecycle state.
type State string

const (
	// StateInit is a freshly created session, nothing ingested yet.
	StateInit State = "INIT"

	// StateIngested means the dataset is loaded and profiled.
	StateIngested State = "INGESTED"

	// StateAnalyzing means the statistical and visualization branches are
	// running concurrently.
	StateAnalyzing State = "ANALYZING_PARALLEL"

	// StateSynthesizing means branch results are being composed into
	// narrative insights.
	StateSynthesizing State = "SYNTHESIZING"

	// StateCommitted means results were durably recorded in memory.
	StateCommitted State = "COMMITTED"

	// StateFailed is the terminal failure state.
	StateFailed State = "FAILED"
)

// transitions lists the legal state machine edges. Any state may fail;
// terminal states have no outgoing edges.
var transitions = map[State][]State{
	StateInit:         {StateIngested, StateFailed},
	StateIngested:     {StateAnalyzing, StateFailed},
	StateAnalyzing:    {StateSynthesizing, StateFailed},
	StateSynthesizing: {StateCommitted, StateFailed},
	StateCommitted:    {},
	StateFailed:       {},
}

// CanTransitionTo reports whether the edge s -> next is legal.
func (s State) CanTransitionTo(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing edges.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}
