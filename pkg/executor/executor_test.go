package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-dev/fermata/pkg/mailbox"
	"github.com/fermata-dev/fermata/pkg/models"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewExecutor(mailbox.NewAsyncMailbox(logger), logger)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish in time")
	}
}

func TestSchedule_RunsTaskToCompletion(t *testing.T) {
	exec := newTestExecutor(t)

	ran := make(chan struct{})

	task, err := exec.Schedule(t.Context(), "run-1", func(_ context.Context) error {
		close(ran)

		return nil
	})
	require.NoError(t, err)

	waitDone(t, task.Done())

	select {
	case <-ran:
	default:
		t.Fatal("task body never ran")
	}

	assert.NoError(t, task.Err())
}

func TestSchedule_TaskErrIsRecorded(t *testing.T) {
	exec := newTestExecutor(t)

	taskErr := errors.New("body failed")

	task, err := exec.Schedule(t.Context(), "run-1", func(_ context.Context) error {
		return taskErr
	})
	require.NoError(t, err)

	waitDone(t, task.Done())
	assert.ErrorIs(t, task.Err(), taskErr)
}

func TestSchedule_DetachedFromCallerContext(t *testing.T) {
	exec := newTestExecutor(t)

	callerCtx, cancel := context.WithCancel(t.Context())

	started := make(chan struct{})
	release := make(chan struct{})

	task, err := exec.Schedule(callerCtx, "run-1", func(ctx context.Context) error {
		close(started)
		<-release

		return ctx.Err()
	})
	require.NoError(t, err)

	<-started

	// Cancelling the scheduling context must not cancel the task.
	cancel()
	close(release)

	waitDone(t, task.Done())
	assert.NoError(t, task.Err())
}

func TestTask_CancelStopsTask(t *testing.T) {
	exec := newTestExecutor(t)

	task, err := exec.Schedule(t.Context(), "run-1", func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})
	require.NoError(t, err)

	task.Cancel()

	waitDone(t, task.Done())
	assert.ErrorIs(t, task.Err(), context.Canceled)
}

func TestTasks_TracksInFlightRuns(t *testing.T) {
	exec := newTestExecutor(t)

	release := make(chan struct{})
	started := make(chan struct{}, 2)

	for _, runID := range []string{"run-1", "run-2"} {
		_, err := exec.Schedule(t.Context(), runID, func(_ context.Context) error {
			started <- struct{}{}
			<-release

			return nil
		})
		require.NoError(t, err)
	}

	<-started
	<-started

	assert.ElementsMatch(t, []string{"run-1", "run-2"}, exec.Tasks())

	close(release)

	require.Eventually(t, func() bool {
		return len(exec.Tasks()) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestShutdown_CancelsAndWaits(t *testing.T) {
	exec := newTestExecutor(t)

	started := make(chan struct{})

	task, err := exec.Schedule(t.Context(), "run-1", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()

		return ctx.Err()
	})
	require.NoError(t, err)

	<-started

	require.NoError(t, exec.Shutdown(t.Context()))

	waitDone(t, task.Done())
	assert.ErrorIs(t, task.Err(), context.Canceled)
}

func TestShutdown_BoundedByContext(t *testing.T) {
	exec := newTestExecutor(t)

	release := make(chan struct{})
	started := make(chan struct{})

	// Stubborn task that ignores cancellation.
	_, err := exec.Schedule(t.Context(), "run-1", func(_ context.Context) error {
		close(started)
		<-release

		return nil
	})
	require.NoError(t, err)

	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err = exec.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestSignal_RoundTripThroughMailbox(t *testing.T) {
	exec := newTestExecutor(t)

	type result struct {
		value any
		err   error
	}

	results := make(chan result, 1)

	go func() {
		value, err := exec.WaitForSignal(t.Context(), models.Signal{Name: "order.approved"}, 5*time.Second)
		results <- result{value: value, err: err}
	}()

	require.Eventually(t, func() bool {
		return exec.Mailbox().PendingWaiters("order.approved") == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, exec.Signal(t.Context(), models.Signal{Name: "order.approved", Payload: "yes"}))

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "yes", res.value)
}

func TestCleanupSignals_ReleasesWaiters(t *testing.T) {
	exec := newTestExecutor(t)

	errs := make(chan error, 1)

	go func() {
		_, err := exec.WaitForSignal(t.Context(), models.Signal{Name: "order.approved"}, time.Minute)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return exec.Mailbox().PendingWaiters("order.approved") == 1
	}, 2*time.Second, 5*time.Millisecond)

	exec.CleanupSignals("", "order.approved")

	err := <-errs
	assert.ErrorIs(t, err, mailbox.ErrWaitCancelled)
	assert.Equal(t, 0, exec.Mailbox().PendingWaiters("order.approved"))
}

func TestCleanupSignals_ScopedToOwningWorkflow(t *testing.T) {
	exec := newTestExecutor(t)

	type result struct {
		value any
		err   error
	}

	results := make(chan result, 1)
	errs := make(chan error, 1)

	go func() {
		_, err := exec.WaitForSignal(t.Context(), models.Signal{Name: "payment.confirmed", WorkflowID: "wf-1"}, time.Minute)
		errs <- err
	}()

	go func() {
		value, err := exec.WaitForSignal(t.Context(), models.Signal{Name: "payment.confirmed", WorkflowID: "wf-2"}, time.Minute)
		results <- result{value: value, err: err}
	}()

	require.Eventually(t, func() bool {
		return exec.Mailbox().PendingWaiters("payment.confirmed") == 2
	}, 2*time.Second, 5*time.Millisecond)

	exec.CleanupSignals("wf-1", "payment.confirmed")

	err := <-errs
	assert.ErrorIs(t, err, mailbox.ErrWaitCancelled)
	assert.Equal(t, 1, exec.Mailbox().PendingWaiters("payment.confirmed"))

	require.NoError(t, exec.Signal(t.Context(), models.Signal{Name: "payment.confirmed", Payload: "txn-7"}))

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "txn-7", res.value)
}
