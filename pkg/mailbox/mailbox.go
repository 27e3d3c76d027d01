package mailbox

import (
	"context"
	"time"

	"github.com/fermata-dev/fermata/pkg/models"
)

// Handler is a callback invoked on every dispatch of a signal name it is
// registered for. A failing handler is isolated: its error (or panic) is
// logged and never aborts delivery to other handlers or waiters.
type Handler func(ctx context.Context, signal models.Signal) error

// Mailbox decouples "a consumer is waiting for an event called X" from
// "a producer has an event called X to deliver". One dispatch fans out to
// every waiter currently pending under the name, each observing the same
// payload, plus every registered handler.
type Mailbox interface {
	// OnSignal registers a handler invoked on each dispatch of name until the
	// name (or the whole mailbox) is cleaned up. Multiple handlers may
	// register on the same name.
	OnSignal(name string, handler Handler) error

	// Signal fulfils all waiters pending under signal.Name with signal.Payload
	// and invokes all handlers for the name. Dispatching with zero waiters is
	// not an error; handlers still fire.
	Signal(ctx context.Context, signal models.Signal) error

	// WaitForSignal registers a new waiter under signal.Name and suspends the
	// caller until a dispatch delivers a payload, the timeout elapses
	// (TimeoutError), or the wait is cancelled (CancelledError). A timeout of
	// zero or less waits indefinitely. A timed-out or cancelled registration
	// is removed before the error is returned; a later dispatch never reaches
	// it.
	WaitForSignal(ctx context.Context, signal models.Signal, timeout time.Duration) (any, error)

	// Cleanup removes the handlers and pending waiters for the given names,
	// or for every name when none are given. Pending waiters are woken with a
	// CancelledError.
	Cleanup(names ...string)

	// CleanupOwned removes only the pending waiters registered under the
	// given workflow id, for the given names or for every name when none are
	// given. Waiters owned by other workflows on the same signal names stay
	// registered; handlers are not owned and are left untouched.
	CleanupOwned(workflowID string, names ...string)

	// PendingWaiters reports how many waiters are registered under name.
	PendingWaiters(name string) int

	// HandlerCount reports how many handlers are registered under name.
	HandlerCount(name string) int
}
