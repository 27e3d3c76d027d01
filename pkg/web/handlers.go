package web

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/fermata-dev/fermata/pkg/eventbus"
	"github.com/fermata-dev/fermata/pkg/events"
	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/fermata-dev/fermata/pkg/persistence"
	"github.com/fermata-dev/fermata/pkg/workflow"
)

// APIHandlers serves the run control surface: inspecting runs, resuming and
// cancelling live ones, and dispatching signals into the system.
type APIHandlers struct {
	registry    *workflow.Registry
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validator   *validator.Validate
}

func NewAPIHandlers(
	registry *workflow.Registry,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		registry:    registry,
		persistence: persistence,
		eventBus:    eventBus,
		validator:   validator,
	}
}

// GetRuns lists stored run snapshots, optionally filtered by workflow id.
// With live=true it reports the in-memory status of currently tracked runs
// instead.
func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	if c.Query("live") == "true" {
		return c.JSON(fiber.Map{"runs": h.registry.Statuses()})
	}

	stored, err := h.listStored(c, c.Query("workflow_id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	runs := make([]RunResponse, 0, len(stored))
	for _, record := range stored {
		runs = append(runs, TransformRunResponse(record))
	}

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

// GetRun returns the stored snapshot of one run.
func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	runID := c.Params("runID")
	if runID == "" {
		return badRequest(c, "Run ID is required")
	}

	record, err := h.persistence.RunRepository().RunByID(c.Context(), runID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(TransformRunResponse(record))
}

// ResumeRun delivers a payload to a paused run.
func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	runID := c.Params("runID")
	if runID == "" {
		return badRequest(c, "Run ID is required")
	}

	var req ResumeRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
	}

	if w, err := h.registry.ByRunID(runID); err == nil {
		if !w.Resume(c.Context(), runID, req.SignalName, req.Payload) {
			return conflict(c, "run is not waiting to be resumed")
		}

		return c.JSON(fiber.Map{
			"run_id":  runID,
			"resumed": true,
		})
	}

	// The run lives in another process. Dispatch its resume signal over the
	// bus and let the owning worker relay it into its mailbox.
	record, err := h.persistence.RunRepository().RunByID(c.Context(), runID)
	if err != nil {
		return handleStoreError(c, err)
	}

	if record.State == nil || record.State.Status != models.WorkflowStatusPaused {
		return conflict(c, "run is not waiting to be resumed")
	}

	signalName := req.SignalName
	if signalName == "" {
		signalName = workflow.ResumeSignalName(runID)
	}

	event := events.SignalDispatched{
		BaseEvent: events.NewBaseEvent(events.SignalDispatchedEvent, record.WorkflowID),
		Signal: models.Signal{
			Name:       signalName,
			Payload:    req.Payload,
			WorkflowID: record.WorkflowID,
			Metadata:   map[string]any{"run_id": runID},
		},
	}

	if err := h.eventBus.Publish(c.Context(), signalName, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id":     runID,
		"dispatched": true,
	})
}

// CancelRun cancels a live run.
func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	runID := c.Params("runID")
	if runID == "" {
		return badRequest(c, "Run ID is required")
	}

	w, err := h.registry.ByRunID(runID)
	if err != nil {
		return notFound(c, "no live run with this id")
	}

	if !w.Cancel(runID) {
		return conflict(c, "run is not cancellable")
	}

	return c.JSON(fiber.Map{
		"run_id":    runID,
		"cancelled": true,
	})
}

// DispatchSignal publishes a signal onto the event bus, where workers relay
// it into their local mailboxes.
func (h *APIHandlers) DispatchSignal(c fiber.Ctx) error {
	var req DispatchSignalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid signal: "+err.Error())
	}

	signal := req.Signal()

	event := events.SignalDispatched{
		BaseEvent: events.NewBaseEvent(events.SignalDispatchedEvent, signal.WorkflowID),
		Signal:    signal,
	}

	if err := h.eventBus.Publish(c.Context(), signal.Name, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"signal":     signal.Name,
		"dispatched": true,
	})
}

// HealthCheck reports store reachability and how many runs are live.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	storeCheck := "ok"
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		storeCheck = err.Error()
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"store":     storeCheck,
		"live_runs": h.registry.Len(),
	})
}

func (h *APIHandlers) listStored(c fiber.Ctx, workflowID string) ([]*models.RunRecord, error) {
	if workflowID != "" {
		return h.persistence.RunRepository().RunsByWorkflowID(c.Context(), workflowID)
	}

	return h.persistence.RunRepository().ListRuns(c.Context())
}
