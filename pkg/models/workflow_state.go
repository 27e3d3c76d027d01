package models

import (
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusInitialized  WorkflowStatus = "initialized"  // Object constructed, no setup done
	WorkflowStatusInitializing WorkflowStatus = "initializing" // Setup performed, ready to run
	WorkflowStatusRunning      WorkflowStatus = "running"      // Body executing
	WorkflowStatusPaused       WorkflowStatus = "paused"       // Suspended on a signal wait
	WorkflowStatusCompleted    WorkflowStatus = "completed"    // Body returned normally
	WorkflowStatusError        WorkflowStatus = "error"        // Body failed with an error
	WorkflowStatusCancelled    WorkflowStatus = "cancelled"    // Run cancelled externally
)

// Terminal reports whether the status ends a run. Terminal workflows do not
// transition again until they are explicitly re-initialized.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusError, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// ErrorRecord captures a failure inside a workflow body.
type ErrorRecord struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// WorkflowState is the mutable, serializable status record for one workflow
// instance. UpdatedAt is refreshed on every mutation (unix seconds).
type WorkflowState struct {
	Status    WorkflowStatus `json:"status"`
	Metadata  map[string]any `json:"metadata"`
	UpdatedAt float64        `json:"updated_at"`
	Error     *ErrorRecord   `json:"error"`
}

// NewWorkflowState returns a fresh state in the initialized status.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{
		Status:   WorkflowStatusInitialized,
		Metadata: make(map[string]any),
	}
}

// SetStatus moves the state to the given status and refreshes UpdatedAt.
func (s *WorkflowState) SetStatus(status WorkflowStatus) {
	s.Status = status
	s.touch()
}

// Update merges the given keys into the state metadata.
func (s *WorkflowState) Update(kv map[string]any) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]any, len(kv))
	}

	for k, v := range kv {
		s.Metadata[k] = v
	}

	s.touch()
}

// RecordError stores a structured error record. Calling it again overwrites
// the previous record with the latest failure.
func (s *WorkflowState) RecordError(err error) {
	s.Error = &ErrorRecord{
		Type:      fmt.Sprintf("%T", err),
		Message:   err.Error(),
		Timestamp: unixNow(),
	}
	s.touch()
}

// Reset returns the state to initialized with the error record cleared.
// Accumulated metadata is kept.
func (s *WorkflowState) Reset() {
	s.Status = WorkflowStatusInitialized
	s.Error = nil
	s.touch()
}

// ToMap dumps the state as a plain mapping of JSON-safe values.
func (s *WorkflowState) ToMap() map[string]any {
	out := map[string]any{
		"status":     string(s.Status),
		"metadata":   s.Metadata,
		"updated_at": s.UpdatedAt,
		"error":      nil,
	}

	if s.Error != nil {
		out["error"] = map[string]any{
			"type":      s.Error.Type,
			"message":   s.Error.Message,
			"timestamp": s.Error.Timestamp,
		}
	}

	return out
}

// Clone returns a deep copy with no aliasing to the receiver's metadata.
func (s *WorkflowState) Clone() *WorkflowState {
	clone := &WorkflowState{
		Status:    s.Status,
		Metadata:  make(map[string]any, len(s.Metadata)),
		UpdatedAt: s.UpdatedAt,
	}

	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}

	if s.Error != nil {
		errCopy := *s.Error
		clone.Error = &errCopy
	}

	return clone
}

func (s *WorkflowState) touch() {
	s.UpdatedAt = unixNow()
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
