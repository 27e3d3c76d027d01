package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fermata-dev/fermata/pkg/eventbus"
	"github.com/fermata-dev/fermata/pkg/events"
	"github.com/fermata-dev/fermata/pkg/mailbox"
	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/fermata-dev/fermata/pkg/persistence"
	"github.com/google/uuid"
)

// ResumeSignalName is the well-known signal name a run listens on when its
// body calls WaitForResume, and the one Resume dispatches by default.
func ResumeSignalName(runID string) string {
	return "resume." + runID
}

// Workflow wraps a Runner with a persistent state record, run identity, and
// signal-based pause/resume. A workflow owns exactly one WorkflowState,
// mutated through its own methods only, and produces one result per run.
type Workflow struct {
	id     string
	name   string
	runner Runner

	mu          sync.Mutex
	state       *models.WorkflowState
	result      *models.WorkflowResult[any]
	runID       string
	task        TaskHandle
	initialized bool
	pausedAt    time.Time
	signalNames map[string]struct{}

	executor Executor
	bus      eventbus.EventBus
	store    persistence.Persistence
	logger   *slog.Logger
}

// Option configures optional workflow collaborators.
type Option func(*Workflow)

// WithEventBus publishes run lifecycle events to the given bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(w *Workflow) {
		w.bus = bus
	}
}

// WithPersistence snapshots run state into the given store on every
// transition.
func WithPersistence(store persistence.Persistence) Option {
	return func(w *Workflow) {
		w.store = store
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// Create constructs an uninitialized workflow. Initialization is the caller's
// responsibility, keeping construction separate from side-effecting setup.
func Create(ctx context.Context, name string, runner Runner, executor Executor, opts ...Option) (*Workflow, error) {
	if name == "" {
		return nil, ErrMissingName
	}

	w := &Workflow{
		id:          uuid.New().String(),
		name:        name,
		runner:      runner,
		executor:    executor,
		state:       models.NewWorkflowState(),
		signalNames: make(map[string]struct{}),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.logger = w.logger.With("module", "workflow", "workflow_id", w.id, "workflow_name", name)
	w.logger.DebugContext(ctx, "Created workflow")

	return w, nil
}

// ID is the workflow's stable identity, assigned at creation.
func (w *Workflow) ID() string {
	return w.id
}

// Name returns the workflow's name.
func (w *Workflow) Name() string {
	return w.name
}

// RunID identifies the current (or last) execution attempt; empty before any
// run has started.
func (w *Workflow) RunID() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.runID
}

// Initialized reports whether Initialize has been called since creation or
// the last Cleanup.
func (w *Workflow) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.initialized
}

// Initialize performs setup ahead of a run. A second call is a no-op.
// Initializing a terminal workflow resets its state for a fresh run; this is
// the only way back from completed, error, or cancelled.
func (w *Workflow) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.initialized {
		return nil
	}

	if w.state.Status.Terminal() {
		w.state.Reset()
	}

	w.state.SetStatus(models.WorkflowStatusInitializing)
	w.initialized = true

	w.logger.DebugContext(ctx, "Initialized workflow")

	return nil
}

// RunAsync schedules the workflow body on the executor and returns the new
// run id without waiting for completion. Failures inside the body are never
// re-raised here; they surface through Status, state inspection, or the task
// handle.
func (w *Workflow) RunAsync(ctx context.Context, input map[string]any) (string, error) {
	w.mu.Lock()

	switch {
	case !w.initialized:
		w.mu.Unlock()

		return "", ErrNotInitialized
	case w.runner == nil:
		w.mu.Unlock()

		return "", ErrRunnerNotImplemented
	case w.executor == nil:
		w.mu.Unlock()

		return "", ErrExecutorRequired
	case w.state.Status == models.WorkflowStatusRunning || w.state.Status == models.WorkflowStatusPaused:
		w.mu.Unlock()

		return "", ErrRunInFlight
	case w.state.Status.Terminal():
		w.mu.Unlock()

		return "", ErrRunFinished
	}

	runID := "run-" + uuid.New().String()[:8]
	w.runID = runID
	w.result = models.NewWorkflowResult[any]()
	w.state.SetStatus(models.WorkflowStatusRunning)

	logger := w.logger.With("run_id", runID)
	w.mu.Unlock()

	w.persist(ctx)
	w.publish(ctx, events.WorkflowExecutionStarted{
		BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionStartedEvent, w.id),
		RunID:        runID,
		WorkflowName: w.name,
		Input:        input,
	})

	task, err := w.executor.Schedule(ctx, runID, func(runCtx context.Context) error {
		return w.execute(runCtx, runID, input, logger)
	})
	if err != nil {
		w.mu.Lock()
		w.state.RecordError(err)
		w.state.SetStatus(models.WorkflowStatusError)
		w.mu.Unlock()

		return "", fmt.Errorf("failed to schedule workflow run: %w", err)
	}

	w.mu.Lock()
	w.task = task
	w.mu.Unlock()

	logger.InfoContext(ctx, "Scheduled workflow run")

	return runID, nil
}

// execute runs the body and settles the run's terminal state.
func (w *Workflow) execute(ctx context.Context, runID string, input map[string]any, logger *slog.Logger) error {
	exec := &Execution{
		workflow: w,
		runID:    runID,
		input:    input,
		logger:   logger,
	}

	value, err := w.runBody(ctx, exec)

	w.mu.Lock()

	switch {
	case err == nil:
		w.result.Finish(value)
		w.state.SetStatus(models.WorkflowStatusCompleted)
		duration := w.result.Duration()
		resultDump := w.result.ToMap()
		w.mu.Unlock()

		w.persist(ctx)
		w.publish(ctx, events.WorkflowExecutionCompleted{
			BaseEvent:  events.NewBaseEvent(events.WorkflowExecutionCompletedEvent, w.id),
			RunID:      runID,
			Result:     resultDump,
			DurationMs: duration.Milliseconds(),
		})

		logger.InfoContext(ctx, "Workflow run completed", "duration", duration)

	case errors.Is(err, context.Canceled) || errors.Is(err, mailbox.ErrWaitCancelled):
		w.state.SetStatus(models.WorkflowStatusCancelled)
		w.mu.Unlock()

		w.persist(ctx)
		w.publish(ctx, events.WorkflowExecutionCancelled{
			BaseEvent: events.NewBaseEvent(events.WorkflowExecutionCancelledEvent, w.id),
			RunID:     runID,
			Reason:    err.Error(),
		})

		logger.InfoContext(ctx, "Workflow run cancelled")

	default:
		w.state.RecordError(err)
		w.state.SetStatus(models.WorkflowStatusError)
		errorType := w.state.Error.Type
		w.mu.Unlock()

		w.persist(ctx)
		w.publish(ctx, events.WorkflowExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.WorkflowExecutionFailedEvent, w.id),
			RunID:     runID,
			ErrorType: errorType,
			Error:     err.Error(),
		})

		logger.ErrorContext(ctx, "Workflow run failed", "error", err)
	}

	return err
}

// runBody invokes the runner with panic containment so a crashing workflow
// cannot take down the executor or sibling runs.
func (w *Workflow) runBody(ctx context.Context, exec *Execution) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow body panicked: %v", r)
		}
	}()

	return w.runner.Run(ctx, exec)
}

// WaitForSignal suspends the calling body on the named signal. The workflow
// is observable as paused while suspended and running again after delivery.
// Timeout and cancellation errors from the mailbox propagate to the caller
// untouched.
func (w *Workflow) WaitForSignal(ctx context.Context, name string, timeout time.Duration) (any, error) {
	if w.executor == nil {
		return nil, ErrExecutorRequired
	}

	w.mu.Lock()
	w.signalNames[name] = struct{}{}
	w.state.SetStatus(models.WorkflowStatusPaused)
	w.pausedAt = time.Now()
	runID := w.runID
	w.mu.Unlock()

	w.persist(ctx)
	w.publish(ctx, events.WorkflowExecutionPaused{
		BaseEvent:  events.NewBaseEvent(events.WorkflowExecutionPausedEvent, w.id),
		RunID:      runID,
		SignalName: name,
		TimeoutMs:  timeout.Milliseconds(),
	})

	value, err := w.executor.WaitForSignal(ctx, models.Signal{Name: name, WorkflowID: w.id}, timeout)

	switch {
	case err == nil:
		w.mu.Lock()
		w.state.SetStatus(models.WorkflowStatusRunning)
		pauseDuration := time.Since(w.pausedAt)
		w.mu.Unlock()

		w.persist(ctx)
		w.publish(ctx, events.WorkflowExecutionResumed{
			BaseEvent:       events.NewBaseEvent(events.WorkflowExecutionResumedEvent, w.id),
			RunID:           runID,
			SignalName:      name,
			PauseDurationMs: pauseDuration.Milliseconds(),
		})

	case errors.Is(err, mailbox.ErrWaitTimeout):
		// The body keeps executing and decides how to handle the timeout.
		w.mu.Lock()
		w.state.SetStatus(models.WorkflowStatusRunning)
		w.mu.Unlock()

		w.publish(ctx, events.SignalTimeout{
			BaseEvent:  events.NewBaseEvent(events.SignalTimeoutEvent, w.id),
			RunID:      runID,
			SignalName: name,
			TimeoutMs:  timeout.Milliseconds(),
		})
	}

	return value, err
}

// Resume delivers a payload to whichever pending wait matches. It returns
// false, never an error, when there is nothing to resume: no run started, a
// mismatched run id, or a dispatch failure. An empty signal name targets the
// run's well-known resume signal.
func (w *Workflow) Resume(ctx context.Context, runID, signalName string, payload any) bool {
	if w.executor == nil {
		return false
	}

	w.mu.Lock()

	if w.runID == "" || (runID != "" && runID != w.runID) {
		w.mu.Unlock()

		return false
	}

	activeRunID := w.runID
	w.mu.Unlock()

	if signalName == "" {
		signalName = ResumeSignalName(activeRunID)
	}

	err := w.executor.Signal(ctx, models.Signal{
		Name:       signalName,
		Payload:    payload,
		WorkflowID: w.id,
		Metadata:   map[string]any{"run_id": activeRunID},
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to dispatch resume signal",
			"run_id", activeRunID,
			"signal", signalName,
			"error", err,
		)

		return false
	}

	return true
}

// Cancel cancels the in-flight run, if any. Mirrors Resume's policy: nothing
// to cancel is a valid outcome reported as false, not an error.
func (w *Workflow) Cancel(runID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.task == nil || w.runID == "" || (runID != "" && runID != w.runID) {
		return false
	}

	if w.state.Status.Terminal() {
		return false
	}

	w.task.Cancel()

	return true
}

// UpdateState merges the given keys into the state metadata and refreshes
// the state's updated-at stamp.
func (w *Workflow) UpdateState(kv map[string]any) {
	w.mu.Lock()
	w.state.Update(kv)
	w.mu.Unlock()
}

// State returns a deep copy of the current workflow state.
func (w *Workflow) State() *models.WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state.Clone()
}

// Result returns the current run's result, nil before the first run.
func (w *Workflow) Result() *models.WorkflowResult[any] {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.result
}

// Task returns the handle of the scheduled run, nil before the first run.
func (w *Workflow) Task() TaskHandle {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.task
}

// Status returns a plain serializable snapshot for external polling. It is
// always callable, including after errors and cancellation.
func (w *Workflow) Status() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := map[string]any{
		"id":     w.id,
		"name":   w.name,
		"status": string(w.state.Status),
		"run_id": w.runID,
	}

	if w.state.Error != nil {
		status["error"] = map[string]any{
			"type":      w.state.Error.Type,
			"message":   w.state.Error.Message,
			"timestamp": w.state.Error.Timestamp,
		}
	}

	return status
}

// Cleanup releases the mailbox registrations owned by this workflow and
// clears the initialized flag, leaving the object safely re-initializable.
// The release is scoped to this workflow's own waiters, so other workflows
// waiting on the same signal names are unaffected.
func (w *Workflow) Cleanup(ctx context.Context) {
	w.mu.Lock()

	names := make([]string, 0, len(w.signalNames)+1)
	for name := range w.signalNames {
		names = append(names, name)
	}

	if w.runID != "" {
		names = append(names, ResumeSignalName(w.runID))
	}

	w.signalNames = make(map[string]struct{})
	w.initialized = false
	w.mu.Unlock()

	if w.executor != nil && len(names) > 0 {
		w.executor.CleanupSignals(w.id, names...)
	}

	w.logger.DebugContext(ctx, "Cleaned up workflow")
}

func (w *Workflow) persist(ctx context.Context) {
	if w.store == nil {
		return
	}

	w.mu.Lock()

	if w.runID == "" {
		w.mu.Unlock()

		return
	}

	record := &models.RunRecord{
		RunID:        w.runID,
		WorkflowID:   w.id,
		WorkflowName: w.name,
		State:        w.state.Clone(),
		UpdatedAt:    time.Now().UTC(),
	}

	if w.result != nil && w.result.EndTime > 0 {
		record.Result = w.result.ToMap()
	}

	w.mu.Unlock()

	if err := w.store.RunRepository().SaveRun(ctx, record); err != nil {
		w.logger.ErrorContext(ctx, "Failed to persist run snapshot",
			"run_id", record.RunID,
			"error", err,
		)
	}
}

func (w *Workflow) publish(ctx context.Context, event eventbus.Event) {
	if w.bus == nil {
		return
	}

	if err := w.bus.Publish(ctx, w.id, event); err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish workflow event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
