package trace

import (
	"context"
	"time"
)

// EventType identifies a phase lifecycle transition.
type EventType string

const (
	// EventPhaseStart marks a phase beginning work.
	EventPhaseStart EventType = "phase_start"

	// EventPhaseEnd marks a phase finishing successfully.
	EventPhaseEnd EventType = "phase_end"

	// EventPhaseError marks a phase ending in failure.
	EventPhaseError EventType = "phase_error"
)

// Event is one phase lifecycle record.
type Event struct {
	Time      time.Time `json:"time"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Dataset   string    `json:"dataset,omitempty"`
	Phase     string    `json:"phase"`

	// DurationMS is set on phase_end and phase_error events.
	DurationMS float64 `json:"duration_ms,omitempty"`

	// Error carries the failure message on phase_error events.
	Error string `json:"error,omitempty"`
}

// Sink receives trace events. Implementations must be safe for concurrent
// use; Emit errors are logged by the tracer and never fail a run.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Close() error
}
