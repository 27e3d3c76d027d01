// Package events defines event types and structures for workflow run and
// signal lifecycle notifications.
package events

import (
	"errors"
	"time"

	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every fermata event on the bus.
const Topic = "fermata.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow run lifecycle events.
	WorkflowExecutionRequestedEvent EventType = "workflow.execution.requested"
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"
	WorkflowExecutionCancelledEvent EventType = "workflow.execution.cancelled"
	WorkflowExecutionPausedEvent    EventType = "workflow.execution.paused"
	WorkflowExecutionResumedEvent   EventType = "workflow.execution.resumed"

	// Signal events.
	SignalDispatchedEvent EventType = "signal.dispatched"
	SignalTimeoutEvent    EventType = "signal.timeout"
)

var ErrMissingWorkflowName = errors.New("workflow name is required")

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecutionRequested asks any listening worker to start the named workflow.
type ExecutionRequested struct {
	BaseEvent

	WorkflowName string         `json:"workflow_name"`
	Config       map[string]any `json:"config,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
}

func (e ExecutionRequested) GetType() EventType {
	return WorkflowExecutionRequestedEvent
}

func (e ExecutionRequested) Validate() error {
	if e.WorkflowName == "" {
		return ErrMissingWorkflowName
	}

	return nil
}

type WorkflowExecutionStarted struct {
	BaseEvent

	RunID        string         `json:"run_id"`
	WorkflowName string         `json:"workflow_name"`
	Input        map[string]any `json:"input,omitempty"`
}

func (e WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	RunID      string         `json:"run_id"`
	Result     map[string]any `json:"result,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	RunID      string `json:"run_id"`
	ErrorType  string `json:"error_type"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

type WorkflowExecutionCancelled struct {
	BaseEvent

	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

func (e WorkflowExecutionCancelled) GetType() EventType {
	return WorkflowExecutionCancelledEvent
}

type WorkflowExecutionPaused struct {
	BaseEvent

	RunID      string `json:"run_id"`
	SignalName string `json:"signal_name"`
	TimeoutMs  int64  `json:"timeout_ms,omitempty"`
}

func (e WorkflowExecutionPaused) GetType() EventType {
	return WorkflowExecutionPausedEvent
}

type WorkflowExecutionResumed struct {
	BaseEvent

	RunID           string `json:"run_id"`
	SignalName      string `json:"signal_name"`
	PauseDurationMs int64  `json:"pause_duration_ms"`
}

func (e WorkflowExecutionResumed) GetType() EventType {
	return WorkflowExecutionResumedEvent
}

// SignalDispatched carries a full signal across the bus so workers can relay
// it into their local mailbox.
type SignalDispatched struct {
	BaseEvent

	Signal models.Signal `json:"signal"`
}

func (e SignalDispatched) GetType() EventType {
	return SignalDispatchedEvent
}

func (e SignalDispatched) Validate() error {
	if e.Signal.Name == "" {
		return models.ErrInvalidSignal
	}

	return nil
}

type SignalTimeout struct {
	BaseEvent

	RunID      string `json:"run_id"`
	SignalName string `json:"signal_name"`
	TimeoutMs  int64  `json:"timeout_ms"`
}

func (e SignalTimeout) GetType() EventType {
	return SignalTimeoutEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
