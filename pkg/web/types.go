// Package web provides HTTP request and response types for the run API.
package web

import (
	"time"

	"github.com/fermata-dev/fermata/pkg/models"
)

// ResumeRunRequest represents the request body for resuming a paused run.
// An empty signal name targets the run's well-known resume signal.
type ResumeRunRequest struct {
	SignalName string `json:"signal_name,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// DispatchSignalRequest represents the request body for dispatching a signal
// to whatever is waiting on it.
type DispatchSignalRequest struct {
	Name        string         `json:"name"                  validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	Payload     any            `json:"payload,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
}

// Signal converts the request into a domain signal.
func (r DispatchSignalRequest) Signal() models.Signal {
	return models.Signal{
		Name:        r.Name,
		Description: r.Description,
		Payload:     r.Payload,
		Metadata:    r.Metadata,
		WorkflowID:  r.WorkflowID,
	}
}

// RunResponse represents one run snapshot in API responses.
type RunResponse struct {
	RunID        string         `json:"run_id"`
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name"`
	Status       string         `json:"status"`
	State        map[string]any `json:"state,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TransformRunResponse converts a stored run record into its API shape.
func TransformRunResponse(record *models.RunRecord) RunResponse {
	response := RunResponse{
		RunID:        record.RunID,
		WorkflowID:   record.WorkflowID,
		WorkflowName: record.WorkflowName,
		Result:       record.Result,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}

	if record.State != nil {
		response.Status = string(record.State.Status)
		response.State = record.State.ToMap()
	}

	return response
}
