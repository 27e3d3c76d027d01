package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-dev/fermata/pkg/channels/gochannel"
	"github.com/fermata-dev/fermata/pkg/eventbus"
	"github.com/fermata-dev/fermata/pkg/events"
	"github.com/fermata-dev/fermata/pkg/executor"
	"github.com/fermata-dev/fermata/pkg/mailbox"
	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/fermata-dev/fermata/pkg/persistence/file"
	"github.com/fermata-dev/fermata/pkg/registry"
	"github.com/fermata-dev/fermata/pkg/workflow"
)

type echoFactory struct{}

func (echoFactory) Name() string { return "echo" }

func (echoFactory) Create(_ map[string]any) (workflow.Runner, error) {
	return workflow.RunnerFunc(func(_ context.Context, e *workflow.Execution) (any, error) {
		return map[string]any{"echo": e.Input()["message"]}, nil
	}), nil
}

type pausingFactory struct{}

func (pausingFactory) Name() string { return "pausing" }

func (pausingFactory) Create(_ map[string]any) (workflow.Runner, error) {
	return workflow.RunnerFunc(func(ctx context.Context, e *workflow.Execution) (any, error) {
		return e.WaitForResume(ctx, 30*time.Second)
	}), nil
}

func newTestBus(t *testing.T, logger *slog.Logger) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func newTestWorker(t *testing.T) (*WorkerManager, *mailbox.AsyncMailbox, *file.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := newTestBus(t, logger)

	mb := mailbox.NewAsyncMailbox(logger)
	exec := executor.NewExecutor(mb, logger)
	store := file.NewPersistence(t.TempDir())

	runners := registry.NewRegistry(logger)
	runners.Register(echoFactory{})
	runners.Register(pausingFactory{})

	worker := NewWorkerManager("worker-test", exec, bus, bus, store, runners, logger)

	return worker, mb, store
}

func TestHandleExecutionRequested_RunsWorkflow(t *testing.T) {
	worker, _, store := newTestWorker(t)

	event := &events.ExecutionRequested{
		BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, ""),
		WorkflowName: "echo",
		Input:        map[string]any{"message": "hello"},
	}

	require.NoError(t, worker.handleExecutionRequested(t.Context(), event))

	var records []*models.RunRecord

	require.Eventually(t, func() bool {
		var err error

		records, err = store.RunRepository().ListRuns(t.Context())

		return err == nil && len(records) == 1 &&
			records[0].State.Status == models.WorkflowStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "echo", records[0].WorkflowName)
	require.NotNil(t, records[0].Result)
}

func TestHandleExecutionRequested_UnknownWorkflow(t *testing.T) {
	worker, _, store := newTestWorker(t)

	event := &events.ExecutionRequested{
		BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, ""),
		WorkflowName: "not-registered",
	}

	// Unknown workflows are logged and dropped, not retried.
	require.NoError(t, worker.handleExecutionRequested(t.Context(), event))

	records, err := store.RunRepository().ListRuns(t.Context())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, worker.Live().Len())
}

func TestHandleExecutionRequested_MissingName(t *testing.T) {
	worker, _, _ := newTestWorker(t)

	event := &events.ExecutionRequested{
		BaseEvent: events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, ""),
	}

	require.NoError(t, worker.handleExecutionRequested(t.Context(), event))
	assert.Equal(t, 0, worker.Live().Len())
}

func TestSubscribe_SignalsArriveOverDedicatedBus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queueBus := newTestBus(t, logger)
	signalBus := newTestBus(t, logger)

	mb := mailbox.NewAsyncMailbox(logger)
	exec := executor.NewExecutor(mb, logger)
	store := file.NewPersistence(t.TempDir())

	runners := registry.NewRegistry(logger)
	runners.Register(pausingFactory{})

	worker := NewWorkerManager("worker-test", exec, queueBus, signalBus, store, runners, logger)
	require.NoError(t, worker.subscribe(t.Context()))

	require.NoError(t, queueBus.Publish(t.Context(), "pausing", events.ExecutionRequested{
		BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, ""),
		WorkflowName: "pausing",
	}))

	require.Eventually(t, func() bool {
		return worker.Live().Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	statuses := worker.Live().Statuses()
	require.Len(t, statuses, 1)

	runID, ok := statuses[0]["run_id"].(string)
	require.True(t, ok)

	resumeName := workflow.ResumeSignalName(runID)

	require.Eventually(t, func() bool {
		return mb.PendingWaiters(resumeName) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, signalBus.Publish(t.Context(), resumeName, events.SignalDispatched{
		BaseEvent: events.NewBaseEvent(events.SignalDispatchedEvent, ""),
		Signal:    models.Signal{Name: resumeName, Payload: "resume-now"},
	}))

	require.Eventually(t, func() bool {
		return worker.Live().Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleSignalDispatched_ResumesPausedRun(t *testing.T) {
	worker, mb, _ := newTestWorker(t)

	event := &events.ExecutionRequested{
		BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, ""),
		WorkflowName: "pausing",
	}

	require.NoError(t, worker.handleExecutionRequested(t.Context(), event))

	require.Eventually(t, func() bool {
		return worker.Live().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	statuses := worker.Live().Statuses()
	require.Len(t, statuses, 1)

	runID, ok := statuses[0]["run_id"].(string)
	require.True(t, ok)

	resumeName := workflow.ResumeSignalName(runID)

	require.Eventually(t, func() bool {
		return mb.PendingWaiters(resumeName) == 1
	}, 2*time.Second, 5*time.Millisecond)

	dispatch := &events.SignalDispatched{
		BaseEvent: events.NewBaseEvent(events.SignalDispatchedEvent, ""),
		Signal:    models.Signal{Name: resumeName, Payload: "resume-now"},
	}

	require.NoError(t, worker.handleSignalDispatched(t.Context(), dispatch))

	w, err := worker.Live().ByRunID(runID)
	if err == nil {
		select {
		case <-w.Task().Done():
		case <-time.After(5 * time.Second):
			t.Fatal("run did not resume in time")
		}

		assert.Equal(t, "resume-now", w.Result().Value)
	}

	require.Eventually(t, func() bool {
		return worker.Live().Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}
