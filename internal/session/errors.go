package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// InvalidStateError reports an operation that is illegal in the session's
// current state: an illegal state machine edge, or mutation of a frozen
// record.
type InvalidStateError struct {
	SessionID string
	State     State
	Op        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session %s: cannot %s in state %s", e.SessionID, e.Op, e.State)
}
