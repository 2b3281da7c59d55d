package store

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when no record exists for a session id.
var ErrSessionNotFound = errors.New("session not found")

// PersistenceError wraps an I/O failure on a session record.
type PersistenceError struct {
	SessionID string
	Op        string // "open", "append", "close", "archive"
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
