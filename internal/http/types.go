package http

import (
	"time"

	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/session"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response body for GET /ready.
type ReadyResponse struct {
	Ready bool `json:"ready"`
}

// AnalyzeRequest is the request body for POST /v1/analyze. Exactly one of
// Source, a file path visible to the daemon, and Name, a dataset catalog
// entry, must be set.
type AnalyzeRequest struct {
	Source string `json:"source,omitempty"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
}

// SessionListResponse is the response body for GET /v1/sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
	Count    int           `json:"count"`
}

// PatternsResponse is the response body for GET /v1/patterns.
type PatternsResponse struct {
	Patterns []memory.Pattern `json:"patterns"`
	Count    int              `json:"count"`
}

// SessionView is the caller-facing shape of a session: insights in rank
// order, artifact references, and per-phase timings.
type SessionView struct {
	ID      string `json:"id"`
	Dataset string `json:"dataset"`
	Status  string `json:"status"`
	Rows    int    `json:"rows,omitempty"`

	Insights []insight.Insight `json:"insights,omitempty"`
	Report   string            `json:"report,omitempty"`
	Charts   []string          `json:"charts,omitempty"`

	Phases          []PhaseView `json:"phases,omitempty"`
	MemoryPersisted bool        `json:"memory_persisted"`
	ContextSessions []string    `json:"context_sessions,omitempty"`

	Evaluation *session.Evaluation `json:"evaluation,omitempty"`
	Error      string              `json:"error,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	DurationMS int64     `json:"duration_ms"`
}

// PhaseView is one finished phase of a run.
type PhaseView struct {
	Phase      string `json:"phase"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewSessionView flattens a session record into the API shape.
func NewSessionView(sess *session.Session) SessionView {
	v := SessionView{
		ID:              sess.ID,
		Dataset:         sess.Dataset,
		Status:          string(sess.State),
		Rows:            sess.Rows,
		Insights:        sess.Insights,
		MemoryPersisted: sess.MemoryPersisted,
		ContextSessions: sess.ContextSessions,
		Evaluation:      sess.Evaluation,
		Error:           sess.Error,
		CreatedAt:       sess.CreatedAt,
		DurationMS:      sess.TotalDuration().Milliseconds(),
	}

	for _, a := range sess.Artifacts {
		switch a.Kind {
		case "chart":
			v.Charts = append(v.Charts, a.Path)
		case "report":
			// The markdown report is appended first; keep it as the
			// primary reference.
			if v.Report == "" {
				v.Report = a.Path
			}
		}
	}

	for _, p := range sess.Phases {
		v.Phases = append(v.Phases, PhaseView{
			Phase:      p.Phase,
			Status:     p.Status,
			DurationMS: p.Duration.Milliseconds(),
			ErrorKind:  p.ErrorKind,
			Error:      p.Error,
		})
	}
	return v
}
