// Package executor schedules workflow runs onto cancellable tasks and wires
// them to a signal mailbox backend.
package executor

import (
	"context"
	"sync"
)

// Task is the handle to one scheduled run.
type Task struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// RunID identifies the run this task executes.
func (t *Task) RunID() string {
	return t.runID
}

// Cancel requests cancellation of the task's context. Safe to call more than
// once and after completion.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's terminal error; nil until Done is closed and nil
// forever for a successful run.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}
