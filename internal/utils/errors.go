package utils

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's failure taxonomy. Callers match them
// with errors.Is after any amount of wrapping.
var (
	// ErrNotFound marks an unknown session, case, or relay identifier.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed marks a run aborted at start: an empty session
	// or an empty relay catalog. The case is finalised as failed with a
	// reason string; no partial scores are stored.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrIntegrityMismatch marks a recomputed evidence hash that diverges
	// from the stored one. It is surfaced on verification, never corrected.
	ErrIntegrityMismatch = errors.New("integrity mismatch")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
