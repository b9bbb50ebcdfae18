package memory

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when no record exists for a session id.
var ErrSessionNotFound = errors.New("session record not found")

// ErrReadOnly is returned when a mutating operation is called on a bank
// opened with OpenRead.
var ErrReadOnly = errors.New("memory bank is read-only")

// ErrLocked is returned when another live process holds the writer lock.
var ErrLocked = errors.New("memory bank is locked by another process")

// WriteError reports a failed durable write. A run that hits one still
// completes; it just reports that its results were not persisted.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("memory write failed: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func writeErr(op, path string, err error) *WriteError {
	return &WriteError{Op: op, Path: path, Err: err}
}
