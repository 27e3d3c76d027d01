package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-dev/fermata/pkg/executor"
	"github.com/fermata-dev/fermata/pkg/mailbox"
	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/fermata-dev/fermata/pkg/persistence/file"
	"github.com/fermata-dev/fermata/pkg/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T) (*executor.Executor, *mailbox.AsyncMailbox) {
	t.Helper()

	mb := mailbox.NewAsyncMailbox(testLogger())
	exec := executor.NewExecutor(mb, testLogger())

	return exec, mb
}

func waitForTask(t *testing.T, w *workflow.Workflow) {
	t.Helper()

	task := w.Task()
	require.NotNil(t, task)

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("workflow run did not finish in time")
	}
}

func TestCreate_RequiresName(t *testing.T) {
	exec, _ := newTestExecutor(t)

	_, err := workflow.Create(t.Context(), "", nil, exec)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrMissingName)
}

func TestCreate_StartsUninitialized(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", nil, exec)
	require.NoError(t, err)

	assert.False(t, w.Initialized())
	assert.NotEmpty(t, w.ID())
	assert.Equal(t, "TestWorkflow", w.Name())
	assert.Empty(t, w.RunID())
	assert.Equal(t, string(models.WorkflowStatusInitialized), w.Status()["status"])
}

func TestRunAsync_RequiresInitialize(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, _ *workflow.Execution) (any, error) {
			return nil, nil
		},
	), exec)
	require.NoError(t, err)

	_, err = w.RunAsync(t.Context(), nil)
	assert.ErrorIs(t, err, workflow.ErrNotInitialized)
}

func TestRunAsync_RequiresRunner(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", nil, exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	_, err = w.RunAsync(t.Context(), nil)
	assert.ErrorIs(t, err, workflow.ErrRunnerNotImplemented)
}

func TestInitialize_Idempotent(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", nil, exec)
	require.NoError(t, err)

	require.NoError(t, w.Initialize(t.Context()))
	require.NoError(t, w.Initialize(t.Context()))

	assert.True(t, w.Initialized())
	assert.Equal(t, string(models.WorkflowStatusInitializing), w.Status()["status"])
}

func TestRunAsync_CompletesWithResult(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, e *workflow.Execution) (any, error) {
			return map[string]any{"ran": true, "input": e.Input()["key"]}, nil
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	runID, err := w.RunAsync(t.Context(), map[string]any{"key": "value"})
	require.NoError(t, err)
	assert.Regexp(t, `^run-[0-9a-f-]{8}$`, runID)

	waitForTask(t, w)

	assert.Equal(t, string(models.WorkflowStatusCompleted), w.Status()["status"])

	result := w.Result()
	require.NotNil(t, result)

	value, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, value["ran"])
	assert.Equal(t, "value", value["input"])
	assert.Greater(t, result.EndTime, 0.0)
	assert.NoError(t, w.Task().Err())
}

func TestRunAsync_RejectsSecondRunInFlight(t *testing.T) {
	exec, mb := newTestExecutor(t)

	release := make(chan struct{})

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, _ *workflow.Execution) (any, error) {
			<-release

			return nil, nil
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	_, err = w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	_, err = w.RunAsync(t.Context(), nil)
	assert.ErrorIs(t, err, workflow.ErrRunInFlight)

	close(release)
	waitForTask(t, w)
	_ = mb
}

func TestRunAsync_ErrorIsRecordedNotRaised(t *testing.T) {
	exec, _ := newTestExecutor(t)

	bodyErr := errors.New("downstream unavailable")

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, _ *workflow.Execution) (any, error) {
			return nil, bodyErr
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	_, err = w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	waitForTask(t, w)

	state := w.State()
	assert.Equal(t, models.WorkflowStatusError, state.Status)
	require.NotNil(t, state.Error)
	assert.Equal(t, "downstream unavailable", state.Error.Message)
	assert.NotEmpty(t, state.Error.Type)
	assert.Greater(t, state.Error.Timestamp, 0.0)

	status := w.Status()
	require.Contains(t, status, "error")
	assert.ErrorIs(t, w.Task().Err(), bodyErr)
}

func TestRunAsync_PanicIsContained(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, _ *workflow.Execution) (any, error) {
			panic("boom")
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	_, err = w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	waitForTask(t, w)

	state := w.State()
	assert.Equal(t, models.WorkflowStatusError, state.Status)
	require.NotNil(t, state.Error)
	assert.Contains(t, state.Error.Message, "boom")
}

func TestRunAsync_TerminalRequiresReinitialize(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, _ *workflow.Execution) (any, error) {
			return "done", nil
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	firstRunID, err := w.RunAsync(t.Context(), nil)
	require.NoError(t, err)
	waitForTask(t, w)

	_, err = w.RunAsync(t.Context(), nil)
	assert.ErrorIs(t, err, workflow.ErrRunFinished)

	// Cleanup drops the initialized flag, Initialize resets terminal state.
	w.Cleanup(t.Context())
	assert.False(t, w.Initialized())

	require.NoError(t, w.Initialize(t.Context()))

	secondRunID, err := w.RunAsync(t.Context(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, firstRunID, secondRunID)

	waitForTask(t, w)
	assert.Equal(t, string(models.WorkflowStatusCompleted), w.Status()["status"])
}

func TestWaitForResume_PauseAndResume(t *testing.T) {
	exec, mb := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(ctx context.Context, e *workflow.Execution) (any, error) {
			value, err := e.WaitForResume(ctx, 5*time.Second)
			if err != nil {
				return nil, err
			}

			return map[string]any{"resumed_with": value}, nil
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	runID, err := w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	resumeName := workflow.ResumeSignalName(runID)

	require.Eventually(t, func() bool {
		return mb.PendingWaiters(resumeName) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, string(models.WorkflowStatusPaused), w.Status()["status"])

	ok := w.Resume(t.Context(), runID, "", map[string]any{"approved": true})
	assert.True(t, ok)

	waitForTask(t, w)

	assert.Equal(t, string(models.WorkflowStatusCompleted), w.Status()["status"])

	value, castOK := w.Result().Value.(map[string]any)
	require.True(t, castOK)
	assert.Equal(t, map[string]any{"approved": true}, value["resumed_with"])
}

func TestWaitForSignal_NamedSignal(t *testing.T) {
	exec, mb := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(ctx context.Context, e *workflow.Execution) (any, error) {
			return e.WaitForSignal(ctx, "payment.confirmed", 5*time.Second)
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	runID, err := w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mb.PendingWaiters("payment.confirmed") == 1
	}, 2*time.Second, 5*time.Millisecond)

	ok := w.Resume(t.Context(), runID, "payment.confirmed", "txn-42")
	assert.True(t, ok)

	waitForTask(t, w)
	assert.Equal(t, "txn-42", w.Result().Value)
}

func TestWaitForSignal_TimeoutSurfacesToBody(t *testing.T) {
	exec, _ := newTestExecutor(t)

	var waitErr error

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(ctx context.Context, e *workflow.Execution) (any, error) {
			_, waitErr = e.WaitForSignal(ctx, "never.sent", 30*time.Millisecond)

			// The body decides what a timeout means; here it degrades
			// gracefully instead of failing the run.
			return "timed-out", nil
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	_, err = w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	waitForTask(t, w)

	assert.ErrorIs(t, waitErr, mailbox.ErrWaitTimeout)
	assert.Equal(t, string(models.WorkflowStatusCompleted), w.Status()["status"])
	assert.Equal(t, "timed-out", w.Result().Value)
}

func TestCancel_WhilePaused(t *testing.T) {
	exec, mb := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(ctx context.Context, e *workflow.Execution) (any, error) {
			return e.WaitForResume(ctx, time.Minute)
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	runID, err := w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mb.PendingWaiters(workflow.ResumeSignalName(runID)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, w.Cancel(runID))

	waitForTask(t, w)
	assert.Equal(t, string(models.WorkflowStatusCancelled), w.Status()["status"])
}

func TestResumeAndCancel_NothingToDo(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, _ *workflow.Execution) (any, error) {
			return nil, nil
		},
	), exec)
	require.NoError(t, err)

	// Before any run.
	assert.False(t, w.Resume(t.Context(), "", "", nil))
	assert.False(t, w.Cancel(""))

	require.NoError(t, w.Initialize(t.Context()))

	runID, err := w.RunAsync(t.Context(), nil)
	require.NoError(t, err)
	waitForTask(t, w)

	// Mismatched run id.
	assert.False(t, w.Resume(t.Context(), "run-other", "", nil))
	assert.False(t, w.Cancel("run-other"))

	// Terminal run.
	assert.False(t, w.Cancel(runID))
}

func TestUpdateState_MergesMetadata(t *testing.T) {
	exec, _ := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, e *workflow.Execution) (any, error) {
			e.UpdateState(map[string]any{"step": "charge", "attempt": 1})
			e.UpdateState(map[string]any{"attempt": 2})

			return nil, nil
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	_, err = w.RunAsync(t.Context(), nil)
	require.NoError(t, err)
	waitForTask(t, w)

	state := w.State()
	assert.Equal(t, "charge", state.Metadata["step"])
	assert.Equal(t, 2, state.Metadata["attempt"])
}

func TestCleanup_ReleasesWaiters(t *testing.T) {
	exec, mb := newTestExecutor(t)

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(ctx context.Context, e *workflow.Execution) (any, error) {
			return e.WaitForSignal(ctx, "external.approval", time.Minute)
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	_, err = w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mb.PendingWaiters("external.approval") == 1
	}, 2*time.Second, 5*time.Millisecond)

	w.Cleanup(t.Context())

	waitForTask(t, w)

	assert.False(t, w.Initialized())
	assert.Equal(t, 0, mb.PendingWaiters("external.approval"))
	assert.Equal(t, string(models.WorkflowStatusCancelled), w.Status()["status"])
}

func TestCleanup_DoesNotTouchOtherWorkflowsOnSharedSignalName(t *testing.T) {
	exec, mb := newTestExecutor(t)

	waitOnPayment := workflow.RunnerFunc(
		func(ctx context.Context, e *workflow.Execution) (any, error) {
			return e.WaitForSignal(ctx, "payment.confirmed", time.Minute)
		},
	)

	w1, err := workflow.Create(t.Context(), "FirstWorkflow", waitOnPayment, exec)
	require.NoError(t, err)
	require.NoError(t, w1.Initialize(t.Context()))

	w2, err := workflow.Create(t.Context(), "SecondWorkflow", waitOnPayment, exec)
	require.NoError(t, err)
	require.NoError(t, w2.Initialize(t.Context()))

	_, err = w1.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	_, err = w2.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mb.PendingWaiters("payment.confirmed") == 2
	}, 2*time.Second, 5*time.Millisecond)

	// The first workflow's teardown must only release its own wait.
	w1.Cleanup(t.Context())
	waitForTask(t, w1)

	assert.Equal(t, 1, mb.PendingWaiters("payment.confirmed"))
	assert.Equal(t, string(models.WorkflowStatusPaused), w2.Status()["status"])

	require.True(t, w2.Resume(t.Context(), w2.RunID(), "payment.confirmed", "txn-42"))
	waitForTask(t, w2)

	assert.Equal(t, string(models.WorkflowStatusCompleted), w2.Status()["status"])
	assert.Equal(t, "txn-42", w2.Result().Value)
}

func TestRunAsync_PersistsSnapshots(t *testing.T) {
	exec, _ := newTestExecutor(t)
	store := file.NewPersistence(t.TempDir())

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(_ context.Context, _ *workflow.Execution) (any, error) {
			return map[string]any{"ran": true}, nil
		},
	), exec, workflow.WithPersistence(store))
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	runID, err := w.RunAsync(t.Context(), nil)
	require.NoError(t, err)
	waitForTask(t, w)

	record, err := store.RunRepository().RunByID(t.Context(), runID)
	require.NoError(t, err)
	assert.Equal(t, w.ID(), record.WorkflowID)
	assert.Equal(t, "TestWorkflow", record.WorkflowName)
	assert.Equal(t, models.WorkflowStatusCompleted, record.State.Status)
	require.NotNil(t, record.Result)
}

func TestResume_ConsoleBackendAnswersPrompt(t *testing.T) {
	in, out := io.Pipe()
	mb := mailbox.NewConsoleMailbox(testLogger(), in, io.Discard)
	exec := executor.NewExecutor(mb, testLogger())

	w, err := workflow.Create(t.Context(), "TestWorkflow", workflow.RunnerFunc(
		func(ctx context.Context, e *workflow.Execution) (any, error) {
			return e.WaitForSignal(ctx, "operator.reply", 5*time.Second)
		},
	), exec)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(t.Context()))

	_, err = w.RunAsync(t.Context(), nil)
	require.NoError(t, err)

	go func() {
		_, _ = out.Write([]byte("approved\n"))
	}()

	waitForTask(t, w)
	assert.Equal(t, "approved", w.Result().Value)
}
