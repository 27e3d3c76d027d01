// Package mailbox matches signal producers to suspended waiters and callback
// subscribers, with pluggable in-process and interactive backends.
package mailbox

import (
	"errors"
	"fmt"
	"time"
)

// Standard mailbox error conditions. Timeout and cancellation are expected,
// recoverable outcomes of a wait and are modeled as distinct types so callers
// can tell "no answer arrived in time" from "the wait was torn down".
var (
	// ErrWaitTimeout indicates a wait exceeded its timeout without a dispatch.
	ErrWaitTimeout = errors.New("signal wait timed out")

	// ErrWaitCancelled indicates a wait was cancelled before a dispatch arrived.
	ErrWaitCancelled = errors.New("signal wait cancelled")
)

// TimeoutError reports which signal a waiter timed out on and the configured
// timeout. The registration is guaranteed removed by the time this is returned.
type TimeoutError struct {
	SignalName string
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for signal %q", e.Timeout, e.SignalName)
}

// Is makes errors.Is(err, ErrWaitTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrWaitTimeout
}

// CancelledError reports a wait torn down by context cancellation or mailbox
// cleanup before any dispatch arrived.
type CancelledError struct {
	SignalName string
	Err        error
}

func (e *CancelledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wait for signal %q cancelled: %v", e.SignalName, e.Err)
	}

	return fmt.Sprintf("wait for signal %q cancelled", e.SignalName)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrWaitCancelled) match.
func (e *CancelledError) Is(target error) bool {
	return target == ErrWaitCancelled
}
