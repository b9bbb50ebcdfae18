// Package session holds the analysis session record, its lifecycle state
// machine, and an in-memory store with freeze-once semantics.
package session

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/insight"
)

// Artifact is a file produced during a run, such as a rendered chart or a
// report.
type Artifact struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Phase outcome values recorded on a PhaseRecord, matching the status
// labels on the phase metrics.
const (
	PhaseOK    = "ok"
	PhaseError = "error"
)

// PhaseRecord is one named unit of coordinator work. Records are appended
// as phases finish; the list stays ordered by actual start time, so the
// two parallel analysis branches appear in launch order regardless of
// which finished first.
type PhaseRecord struct {
	Phase     string        `json:"phase"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// ErrorKind names the error type for failed phases, such as
	// ToolError or TimeoutError.
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Evaluation is the post-run quality assessment attached to a committed
// session. Scores are on a 0-100 scale.
type Evaluation struct {
	QualityScore     float64   `json:"quality_score"`
	PerformanceScore float64   `json:"performance_score"`
	MemoryScore      float64   `json:"memory_score"`
	Overall          float64   `json:"overall"`
	Grade            string    `json:"grade"`
	Suggestions      []string  `json:"suggestions,omitempty"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// Session is one analysis run over a dataset.
type Session struct {
	ID      string `json:"id"`
	Dataset string `json:"dataset"`
	Path    string `json:"path,omitempty"`

	State State `json:"state"`

	Schema dataset.Schema `json:"schema"`
	Rows   int            `json:"rows"`

	Insights  []insight.Insight `json:"insights,omitempty"`
	Artifacts []Artifact        `json:"artifacts,omitempty"`

	// ContextSessions are ids of past sessions retrieved as relevant
	// context before analysis.
	ContextSessions []string `json:"context_sessions,omitempty"`

	// Phases are the finished units of work, ordered by start time.
	Phases []PhaseRecord `json:"phases,omitempty"`

	// MemoryPersisted reports whether the commit reached durable memory.
	// A run can succeed with this false when the memory bank was
	// unavailable.
	MemoryPersisted bool `json:"memory_persisted"`

	// Error holds the failure reason for FAILED sessions.
	Error string `json:"error,omitempty"`

	Evaluation *Evaluation `json:"evaluation,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// New creates a session in StateInit for the named dataset.
func New(id, datasetName, path string) *Session {
	return &Session{
		ID:        id,
		Dataset:   datasetName,
		Path:      path,
		State:     StateInit,
		CreatedAt: time.Now().UTC(),
	}
}

// Advance moves the session along a legal state machine edge. An illegal
// edge leaves the session untouched and returns InvalidStateError.
func (s *Session) Advance(next State) error {
	if !next.Valid() {
		return fmt.Errorf("unknown session state %q", next)
	}
	if !s.State.CanTransitionTo(next) {
		return &InvalidStateError{SessionID: s.ID, State: s.State, Op: "transition to " + string(next)}
	}
	s.State = next
	if next.Terminal() {
		s.CompletedAt = time.Now().UTC()
	}
	return nil
}

// Fail moves the session to StateFailed recording the reason. Failing a
// terminal session is rejected.
func (s *Session) Fail(reason string) error {
	if err := s.Advance(StateFailed); err != nil {
		return err
	}
	s.Error = reason
	return nil
}

// RecordPhase appends a finished phase, keeping the list ordered by start
// time.
func (s *Session) RecordPhase(rec PhaseRecord) {
	i := len(s.Phases)
	for i > 0 && s.Phases[i-1].StartedAt.After(rec.StartedAt) {
		i--
	}
	s.Phases = append(s.Phases, PhaseRecord{})
	copy(s.Phases[i+1:], s.Phases[i:])
	s.Phases[i] = rec
}

// Phase returns the record for the named phase, or nil if it has not
// finished.
func (s *Session) Phase(name string) *PhaseRecord {
	for i := range s.Phases {
		if s.Phases[i].Phase == name {
			return &s.Phases[i]
		}
	}
	return nil
}

// TotalDuration is the wall time from start to terminal state. For a
// session still in flight it falls back to the summed phase durations,
// which overstates overlapping phases.
func (s *Session) TotalDuration() time.Duration {
	if !s.CompletedAt.IsZero() {
		return s.CompletedAt.Sub(s.CreatedAt)
	}
	var total time.Duration
	for i := range s.Phases {
		total += s.Phases[i].Duration
	}
	return total
}

// Clone returns a deep copy safe to hand outside the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s

	out.Schema.Columns = append([]dataset.ColumnSchema(nil), s.Schema.Columns...)
	out.Insights = append([]insight.Insight(nil), s.Insights...)
	out.Artifacts = append([]Artifact(nil), s.Artifacts...)
	out.ContextSessions = append([]string(nil), s.ContextSessions...)
	out.Phases = append([]PhaseRecord(nil), s.Phases...)

	if s.Evaluation != nil {
		ev := *s.Evaluation
		ev.Suggestions = append([]string(nil), s.Evaluation.Suggestions...)
		out.Evaluation = &ev
	}
	return &out
}
