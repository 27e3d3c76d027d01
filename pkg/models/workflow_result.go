package models

import "time"

// WorkflowResult is the outcome of one completed run, generic over the
// result payload type. EndTime is set only on completion.
type WorkflowResult[T any] struct {
	Value     T              `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	StartTime float64        `json:"start_time,omitempty"`
	EndTime   float64        `json:"end_time,omitempty"`
}

// NewWorkflowResult returns a result stamped with the current start time.
func NewWorkflowResult[T any]() *WorkflowResult[T] {
	return &WorkflowResult[T]{
		Metadata:  make(map[string]any),
		StartTime: unixNow(),
	}
}

// Finish records the value and stamps the end time.
func (r *WorkflowResult[T]) Finish(value T) {
	r.Value = value
	r.EndTime = unixNow()
}

// Duration returns the wall-clock run time, or zero while still running.
func (r *WorkflowResult[T]) Duration() time.Duration {
	if r.EndTime == 0 || r.StartTime == 0 {
		return 0
	}

	return time.Duration((r.EndTime - r.StartTime) * float64(time.Second))
}

// ToMap dumps the result as a plain mapping of JSON-safe values.
func (r *WorkflowResult[T]) ToMap() map[string]any {
	return map[string]any{
		"value":      r.Value,
		"metadata":   r.Metadata,
		"start_time": r.StartTime,
		"end_time":   r.EndTime,
	}
}
