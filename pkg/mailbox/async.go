package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// pendingSignal is the live bookkeeping record for one outstanding wait. Each
// record owns exactly one single-shot delivery channel, never shared or
// reused across registrations.
type pendingSignal struct {
	registration models.SignalRegistration
	done         chan any      // buffered 1; receives the dispatched payload
	cancelled    chan struct{} // closed by Cleanup to wake the waiter
}

// AsyncMailbox is the in-process mailbox: a mutex-guarded registry of pending
// waiters and handlers keyed by signal name. All registry mutations are
// critical sections, so a timeout and a dispatch racing on the same waiter
// resolve to exactly one outcome: a removed registration is never delivered.
type AsyncMailbox struct {
	mu       sync.Mutex
	waiters  map[string][]*pendingSignal
	handlers map[string][]Handler
	schemas  map[string]*gojsonschema.Schema
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAsyncMailbox creates an empty in-process mailbox. Mailboxes are plain
// values constructed per executor; nothing here is process-global, so tests
// can run as many independent instances as they like.
func NewAsyncMailbox(logger *slog.Logger) *AsyncMailbox {
	return &AsyncMailbox{
		waiters:  make(map[string][]*pendingSignal),
		handlers: make(map[string][]Handler),
		schemas:  make(map[string]*gojsonschema.Schema),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "mailbox"),
	}
}

// SetPayloadSchema attaches a JSON schema to a signal name. Dispatches whose
// payload fails the schema are rejected before any waiter or handler sees them.
func (m *AsyncMailbox) SetPayloadSchema(name string, schema map[string]any) error {
	if name == "" {
		return fmt.Errorf("%w: signal name is empty", models.ErrInvalidSignal)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("failed to compile payload schema for signal %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schemas[name] = compiled

	return nil
}

func (m *AsyncMailbox) OnSignal(name string, handler Handler) error {
	if err := models.ValidateSignal(m.validate, &models.Signal{Name: name}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[name] = append(m.handlers[name], handler)

	return nil
}

func (m *AsyncMailbox) Signal(ctx context.Context, signal models.Signal) error {
	if err := models.ValidateSignal(m.validate, &signal); err != nil {
		return err
	}

	m.mu.Lock()

	if schema, ok := m.schemas[signal.Name]; ok {
		if err := checkPayloadSchema(schema, signal.Payload); err != nil {
			m.mu.Unlock()

			return err
		}
	}

	// Fulfilled waiters leave the registry at dispatch time; every waiter
	// pending right now observes this payload, later ones the next dispatch.
	pending := m.waiters[signal.Name]
	delete(m.waiters, signal.Name)

	handlers := make([]Handler, len(m.handlers[signal.Name]))
	copy(handlers, m.handlers[signal.Name])

	m.mu.Unlock()

	for _, waiter := range pending {
		waiter.done <- signal.Payload
	}

	for _, handler := range handlers {
		m.invokeHandler(ctx, handler, signal)
	}

	m.logger.DebugContext(ctx, "Dispatched signal",
		"signal", signal.Name,
		"waiters", len(pending),
		"handlers", len(handlers),
	)

	return nil
}

func (m *AsyncMailbox) WaitForSignal(ctx context.Context, signal models.Signal, timeout time.Duration) (any, error) {
	if err := models.ValidateSignal(m.validate, &signal); err != nil {
		return nil, err
	}

	waiter := &pendingSignal{
		registration: models.NewSignalRegistration(signal.Name, signal.WorkflowID),
		done:         make(chan any, 1),
		cancelled:    make(chan struct{}),
	}

	m.mu.Lock()
	m.waiters[signal.Name] = append(m.waiters[signal.Name], waiter)
	m.mu.Unlock()

	var expired <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		expired = timer.C
	}

	select {
	case value := <-waiter.done:
		return value, nil

	case <-expired:
		m.remove(signal.Name, waiter)

		return nil, &TimeoutError{SignalName: signal.Name, Timeout: timeout}

	case <-waiter.cancelled:
		return nil, &CancelledError{SignalName: signal.Name, Err: ErrWaitCancelled}

	case <-ctx.Done():
		m.remove(signal.Name, waiter)

		return nil, &CancelledError{SignalName: signal.Name, Err: ctx.Err()}
	}
}

func (m *AsyncMailbox) Cleanup(names ...string) {
	m.mu.Lock()

	var dropped []*pendingSignal

	if len(names) == 0 {
		for _, pending := range m.waiters {
			dropped = append(dropped, pending...)
		}

		m.waiters = make(map[string][]*pendingSignal)
		m.handlers = make(map[string][]Handler)
	} else {
		for _, name := range names {
			dropped = append(dropped, m.waiters[name]...)
			delete(m.waiters, name)
			delete(m.handlers, name)
		}
	}

	m.mu.Unlock()

	for _, waiter := range dropped {
		close(waiter.cancelled)
	}
}

func (m *AsyncMailbox) CleanupOwned(workflowID string, names ...string) {
	m.mu.Lock()

	if len(names) == 0 {
		names = make([]string, 0, len(m.waiters))
		for name := range m.waiters {
			names = append(names, name)
		}
	}

	var dropped []*pendingSignal

	for _, name := range names {
		kept := m.waiters[name][:0]

		for _, waiter := range m.waiters[name] {
			if waiter.registration.WorkflowID == workflowID {
				dropped = append(dropped, waiter)
			} else {
				kept = append(kept, waiter)
			}
		}

		if len(kept) == 0 {
			delete(m.waiters, name)
		} else {
			m.waiters[name] = kept
		}
	}

	m.mu.Unlock()

	for _, waiter := range dropped {
		close(waiter.cancelled)
	}
}

func (m *AsyncMailbox) PendingWaiters(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.waiters[name])
}

func (m *AsyncMailbox) HandlerCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.handlers[name])
}

// remove drops one waiter from the registry, deleting the name bucket when it
// empties out. Safe to call after the waiter was already fulfilled or removed.
func (m *AsyncMailbox) remove(name string, target *pendingSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.waiters[name]
	for i, waiter := range pending {
		if waiter == target {
			m.waiters[name] = append(pending[:i], pending[i+1:]...)

			break
		}
	}

	if len(m.waiters[name]) == 0 {
		delete(m.waiters, name)
	}
}

// invokeHandler runs one handler with panic and error isolation.
func (m *AsyncMailbox) invokeHandler(ctx context.Context, handler Handler, signal models.Signal) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "Signal handler panicked",
				"signal", signal.Name,
				"panic", r,
			)
		}
	}()

	if err := handler(ctx, signal); err != nil {
		m.logger.ErrorContext(ctx, "Signal handler failed",
			"signal", signal.Name,
			"error", err,
		)
	}
}

func checkPayloadSchema(schema *gojsonschema.Schema, payload any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidSignal, err.Error())
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("%w: payload schema violations: %s", models.ErrInvalidSignal, strings.Join(details, "; "))
	}

	return nil
}
