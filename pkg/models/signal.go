// Package models defines the core domain models for signal-driven workflows.
package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidSignal indicates a signal failed validation before registration or dispatch.
var ErrInvalidSignal = errors.New("invalid signal")

// Signal is a named event used to communicate a value from a producer to one
// or more suspended waiters. Payload is supplied at dispatch time only;
// a Signal passed to a wait call describes what is being waited for.
type Signal struct {
	Name        string         `json:"name"                  validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	Payload     any            `json:"payload,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
}

// SignalRegistration identifies one outstanding wait on a signal name.
// UniqueName distinguishes multiple waiters registered under the same name.
type SignalRegistration struct {
	SignalName string `json:"signal_name"`
	UniqueName string `json:"unique_name"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// NewSignalRegistration creates a registration with a generated unique name.
func NewSignalRegistration(signalName, workflowID string) SignalRegistration {
	return SignalRegistration{
		SignalName: signalName,
		UniqueName: signalName + "-" + uuid.New().String()[:8],
		WorkflowID: workflowID,
	}
}

// ValidateSignal checks a signal against its struct constraints. An empty or
// missing name is rejected with ErrInvalidSignal.
func ValidateSignal(validate *validator.Validate, signal *Signal) error {
	if signal == nil {
		return fmt.Errorf("%w: signal is nil", ErrInvalidSignal)
	}

	if err := validate.Struct(signal); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignal, err.Error())
	}

	return nil
}
