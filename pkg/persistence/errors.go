// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRunNotFound indicates no run record exists for the given run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRunRecord indicates a record is missing required identity fields.
	ErrInvalidRunRecord = errors.New("invalid run record")
)

// RunError wraps run-storage errors with operation context.
type RunError struct {
	Op    string // Operation being performed (e.g., "SaveRun", "RunByID")
	RunID string // Run ID if applicable
	Err   error  // Underlying error
}

func (e *RunError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s failed for run %s: %v", e.Op, e.RunID, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for run errors.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{
		Op:    op,
		RunID: runID,
		Err:   err,
	}
}
