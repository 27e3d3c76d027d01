// Package workflow gives asynchronous business logic a uniform lifecycle:
// observable state, run identity, signal-based pause/resume, and a final
// result, independent of how the surrounding executor schedules work.
package workflow

import "errors"

var (
	// ErrRunnerNotImplemented indicates a workflow was started without a body.
	ErrRunnerNotImplemented = errors.New("workflow runner not implemented")

	// ErrExecutorRequired indicates a workflow has no executor to schedule on.
	ErrExecutorRequired = errors.New("workflow executor not configured")

	// ErrNotInitialized indicates RunAsync was called before Initialize.
	ErrNotInitialized = errors.New("workflow not initialized")

	// ErrRunInFlight indicates a run is already scheduled or executing.
	ErrRunInFlight = errors.New("workflow run already in flight")

	// ErrRunFinished indicates the workflow reached a terminal status; it must
	// be initialized again before another run is accepted.
	ErrRunFinished = errors.New("workflow run finished; initialize again to re-run")

	// ErrMissingName indicates a workflow was created without a name.
	ErrMissingName = errors.New("workflow name is required")

	// ErrRunNotFound indicates no live workflow matches the given run id.
	ErrRunNotFound = errors.New("workflow run not found")
)
