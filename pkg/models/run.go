package models

import "time"

// RunRecord is the persisted snapshot of one workflow run: identity, last
// observed state and, once finished, the serialized result.
type RunRecord struct {
	RunID        string         `json:"run_id"        validate:"required"`
	WorkflowID   string         `json:"workflow_id"   validate:"required"`
	WorkflowName string         `json:"workflow_name"`
	State        *WorkflowState `json:"state"`
	Result       map[string]any `json:"result,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
