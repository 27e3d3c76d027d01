package workflow

import (
	"context"
	"log/slog"
	"time"
)

// Runner is the workflow body. Run receives an Execution scoped to one
// attempt; its return value becomes the run's result value. Lifecycle
// transitions are handled by the wrapping Workflow, not the body.
type Runner interface {
	Run(ctx context.Context, exec *Execution) (any, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, exec *Execution) (any, error)

func (f RunnerFunc) Run(ctx context.Context, exec *Execution) (any, error) {
	return f(ctx, exec)
}

// Execution is the body's view of one run attempt: its input, identity, and
// the pause/resume primitives.
type Execution struct {
	workflow *Workflow
	runID    string
	input    map[string]any
	logger   *slog.Logger
}

// RunID identifies this execution attempt.
func (e *Execution) RunID() string {
	return e.runID
}

// Input returns the input the run was started with.
func (e *Execution) Input() map[string]any {
	return e.input
}

// Logger returns a logger tagged with the workflow and run identity.
func (e *Execution) Logger() *slog.Logger {
	return e.logger
}

// WaitForSignal suspends the body until the named signal is dispatched. The
// workflow is observable as paused for the duration of the wait.
func (e *Execution) WaitForSignal(ctx context.Context, name string, timeout time.Duration) (any, error) {
	return e.workflow.WaitForSignal(ctx, name, timeout)
}

// WaitForResume suspends on this run's well-known resume signal, the one
// Resume dispatches when called without an explicit signal name.
func (e *Execution) WaitForResume(ctx context.Context, timeout time.Duration) (any, error) {
	return e.workflow.WaitForSignal(ctx, ResumeSignalName(e.runID), timeout)
}

// UpdateState merges the given keys into the workflow's state metadata.
func (e *Execution) UpdateState(kv map[string]any) {
	e.workflow.UpdateState(kv)
}
