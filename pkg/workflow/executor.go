package workflow

import (
	"context"
	"time"

	"github.com/fermata-dev/fermata/pkg/models"
)

// TaskHandle is the executor's handle to one scheduled run, usable for
// cancellation and completion tracking.
type TaskHandle interface {
	// Cancel requests cancellation of the running task's context.
	Cancel()

	// Done is closed when the task finishes, in any terminal way.
	Done() <-chan struct{}

	// Err returns the task's terminal error, nil until Done is closed.
	Err() error
}

// Executor is the scheduling and signal-dispatch abstraction a workflow
// delegates to. The workflow neither knows nor cares which mailbox backend
// the executor is configured with.
type Executor interface {
	// Schedule starts fn on an executor-managed task and returns a handle
	// without waiting for completion.
	Schedule(ctx context.Context, runID string, fn func(ctx context.Context) error) (TaskHandle, error)

	// WaitForSignal suspends until the named signal is dispatched, the
	// timeout elapses, or the wait is cancelled.
	WaitForSignal(ctx context.Context, signal models.Signal, timeout time.Duration) (any, error)

	// Signal dispatches a signal to all pending waiters and handlers.
	Signal(ctx context.Context, signal models.Signal) error

	// CleanupSignals releases waiters for the given names. A non-empty
	// workflowID scopes the release to that workflow's own registrations, so
	// unrelated waits on the same signal names survive; an empty workflowID
	// releases every waiter and handler under the names.
	CleanupSignals(workflowID string, names ...string)
}
