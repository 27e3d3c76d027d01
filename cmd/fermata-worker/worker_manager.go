// Package main implements the fermata worker: it starts workflow runs
// requested over the event bus and relays dispatched signals into the local
// mailbox so paused runs can resume.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fermata-dev/fermata/pkg/eventbus"
	"github.com/fermata-dev/fermata/pkg/events"
	"github.com/fermata-dev/fermata/pkg/executor"
	"github.com/fermata-dev/fermata/pkg/persistence"
	"github.com/fermata-dev/fermata/pkg/registry"
	"github.com/fermata-dev/fermata/pkg/workflow"
)

const shutdownTimeout = 30 * time.Second

// WorkerManager consumes execution requests from the shared work queue and
// signal dispatches from a per-instance subscription. The split matters on
// Kafka: execution requests are load-balanced across the worker fleet, but a
// dispatched signal only helps the worker whose mailbox holds the paused
// run, so every worker must see every signal event.
type WorkerManager struct {
	id        string
	logger    *slog.Logger
	executor  *executor.Executor
	eventBus  eventbus.EventBus
	signalBus eventbus.EventBus
	store     persistence.Persistence
	runners   *registry.Registry
	live      *workflow.Registry
}

func NewWorkerManager(
	id string,
	exec *executor.Executor,
	eventBus eventbus.EventBus,
	signalBus eventbus.EventBus,
	store persistence.Persistence,
	runners *registry.Registry,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:        id,
		logger:    logger.With("module", "worker_manager"),
		executor:  exec,
		eventBus:  eventBus,
		signalBus: signalBus,
		store:     store,
		runners:   runners,
		live:      workflow.NewRegistry(),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if err := w.subscribe(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return w.executor.Shutdown(shutdownCtx)
}

// subscribe wires execution requests to the shared queue bus and signal
// dispatches to the per-instance relay bus.
func (w *WorkerManager) subscribe(ctx context.Context) error {
	if err := w.eventBus.Handle(events.WorkflowExecutionRequestedEvent, w.handleExecutionRequested); err != nil {
		return err
	}

	if err := w.signalBus.Handle(events.SignalDispatchedEvent, w.handleSignalDispatched); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.signalBus != w.eventBus {
		if err := w.signalBus.Subscribe(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to subscribe to signal bus", "error", err)

			return err
		}
	}

	return nil
}

func (w *WorkerManager) handleExecutionRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionRequested")

		return nil
	}

	if err := requested.Validate(); err != nil {
		w.logger.ErrorContext(ctx, "Rejected execution request", "error", err)

		return nil
	}

	logger := w.logger.With(
		"workflow_name", requested.WorkflowName,
		"event_id", requested.ID,
	)
	logger.InfoContext(ctx, "Processing execution request")

	runner, err := w.runners.Create(requested.WorkflowName, requested.Config)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create runner", "error", err)

		return nil
	}

	wf, err := workflow.Create(ctx, requested.WorkflowName, runner, w.executor,
		workflow.WithEventBus(w.eventBus),
		workflow.WithPersistence(w.store),
		workflow.WithLogger(w.logger),
	)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create workflow", "error", err)

		return nil
	}

	if err := wf.Initialize(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to initialize workflow", "error", err)

		return nil
	}

	runID, err := wf.RunAsync(ctx, requested.Input)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to start workflow run", "error", err)

		return nil
	}

	w.live.Register(runID, wf)

	go func() {
		<-wf.Task().Done()
		w.live.Deregister(runID)
		wf.Cleanup(context.WithoutCancel(ctx))
	}()

	logger.InfoContext(ctx, "Workflow run started", "run_id", runID)

	return nil
}

func (w *WorkerManager) handleSignalDispatched(ctx context.Context, event any) error {
	dispatched, ok := event.(*events.SignalDispatched)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for SignalDispatched")

		return nil
	}

	logger := w.logger.With(
		"signal", dispatched.Signal.Name,
		"event_id", dispatched.ID,
	)

	if err := w.executor.Signal(ctx, dispatched.Signal); err != nil {
		logger.ErrorContext(ctx, "Failed to relay signal into mailbox", "error", err)

		return nil
	}

	logger.DebugContext(ctx, "Relayed signal into mailbox")

	return nil
}

// Live exposes the in-memory run registry, used by tests to observe runs.
func (w *WorkerManager) Live() *workflow.Registry {
	return w.live
}
