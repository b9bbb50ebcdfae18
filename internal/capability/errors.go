package capability

import (
	"fmt"
	"time"
)

// ToolError reports a failed capability invocation. A single ToolError does
// not fail a run: the coordinator downgrades it to a phase failure and only
// fails the run when both parallel analysis branches report one.
type ToolError struct {
	Capability string
	Err        error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("capability %s: %v", e.Capability, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// TimeoutError reports a capability that missed its phase deadline. It
// counts as a ToolError for run fatality decisions.
type TimeoutError struct {
	Capability string
	Timeout    time.Duration
	Err        error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("capability %s timed out after %s", e.Capability, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func toolErr(capability string, err error) *ToolError {
	return &ToolError{Capability: capability, Err: err}
}
