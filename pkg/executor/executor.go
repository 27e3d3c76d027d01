package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fermata-dev/fermata/pkg/mailbox"
	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/fermata-dev/fermata/pkg/otelhelper"
	"github.com/fermata-dev/fermata/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs workflow bodies on cancellable goroutine-backed tasks and
// exposes the signal-dispatch facility of whichever mailbox backend it was
// constructed with. One executor owns one mailbox; tests can build as many
// independent pairs as they need.
type Executor struct {
	mailbox mailbox.Mailbox
	tracer  trace.Tracer
	logger  *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

type Option func(*Executor)

// WithTracer enables span creation around runs and signal waits.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func NewExecutor(mb mailbox.Mailbox, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		mailbox: mb,
		logger:  logger.With("module", "executor"),
		tasks:   make(map[string]*Task),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Mailbox returns the signal backend this executor dispatches through.
func (e *Executor) Mailbox() mailbox.Mailbox {
	return e.mailbox
}

// Schedule starts fn on a new task and returns its handle immediately. The
// task's context is detached from the caller's cancellation: a short-lived
// request context must not tear down a long-running workflow.
func (e *Executor) Schedule(ctx context.Context, runID string, fn func(ctx context.Context) error) (workflow.TaskHandle, error) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	task := &Task{
		runID:  runID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.tasks[runID] = task
	e.mu.Unlock()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer close(task.done)
		defer cancel()

		runCtx := taskCtx

		var span trace.Span

		if e.tracer != nil {
			runCtx, span = otelhelper.StartSpan(runCtx, e.tracer, "workflow.run",
				attribute.String(otelhelper.RunIDKey, runID),
			)
			defer span.End()
		}

		err := fn(runCtx)
		task.setErr(err)

		if err != nil && span != nil {
			otelhelper.SetError(span, err)
		}

		e.mu.Lock()
		delete(e.tasks, runID)
		e.mu.Unlock()
	}()

	e.logger.DebugContext(ctx, "Scheduled task", "run_id", runID)

	return task, nil
}

// WaitForSignal delegates to the mailbox, wrapping the wait in a span when
// tracing is enabled.
func (e *Executor) WaitForSignal(ctx context.Context, signal models.Signal, timeout time.Duration) (any, error) {
	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "signal.wait",
			attribute.String(otelhelper.SignalNameKey, signal.Name),
			attribute.String(otelhelper.WorkflowIDKey, signal.WorkflowID),
		)
		defer span.End()

		value, err := e.mailbox.WaitForSignal(ctx, signal, timeout)
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return value, err
	}

	return e.mailbox.WaitForSignal(ctx, signal, timeout)
}

// Signal delegates a dispatch to the mailbox.
func (e *Executor) Signal(ctx context.Context, signal models.Signal) error {
	return e.mailbox.Signal(ctx, signal)
}

// CleanupSignals releases the mailbox's waiters for the given names. With a
// workflow id the release only touches that workflow's registrations; without
// one it tears down every waiter and handler under the names.
func (e *Executor) CleanupSignals(workflowID string, names ...string) {
	if workflowID == "" {
		e.mailbox.Cleanup(names...)

		return
	}

	e.mailbox.CleanupOwned(workflowID, names...)
}

// Tasks reports the run ids currently executing.
func (e *Executor) Tasks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.tasks))
	for id := range e.tasks {
		ids = append(ids, id)
	}

	return ids
}

// Shutdown cancels every in-flight task and waits for them to finish,
// bounded by ctx.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, task := range e.tasks {
		task.Cancel()
	}
	e.mu.Unlock()

	finished := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
