package mailbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ConsoleMailbox is the interactive backend: a wait prompts the operator and
// returns whatever line they type. The operator is the producer, so Signal
// only notifies registered handlers; there are never pending waiters to
// fulfil.
//
// The blocking read runs on a dedicated goroutine feeding a channel, so a
// wait can still honor its timeout and context without stalling other
// concurrent work.
type ConsoleMailbox struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	validate *validator.Validate
	logger   *slog.Logger

	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan consoleLine
}

type consoleLine struct {
	text string
	err  error
}

// NewConsoleMailbox creates an interactive mailbox reading operator input
// from in and writing prompts to out.
func NewConsoleMailbox(logger *slog.Logger, in io.Reader, out io.Writer) *ConsoleMailbox {
	return &ConsoleMailbox{
		handlers: make(map[string][]Handler),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "console_mailbox"),
		in:       in,
		out:      out,
		lines:    make(chan consoleLine),
	}
}

func (m *ConsoleMailbox) OnSignal(name string, handler Handler) error {
	if err := models.ValidateSignal(m.validate, &models.Signal{Name: name}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[name] = append(m.handlers[name], handler)

	return nil
}

func (m *ConsoleMailbox) Signal(ctx context.Context, signal models.Signal) error {
	if err := models.ValidateSignal(m.validate, &signal); err != nil {
		return err
	}

	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers[signal.Name]))
	copy(handlers, m.handlers[signal.Name])
	m.mu.Unlock()

	for _, handler := range handlers {
		m.invokeHandler(ctx, handler, signal)
	}

	return nil
}

func (m *ConsoleMailbox) WaitForSignal(ctx context.Context, signal models.Signal, timeout time.Duration) (any, error) {
	if err := models.ValidateSignal(m.validate, &signal); err != nil {
		return nil, err
	}

	m.once.Do(m.startReader)

	m.prompt(signal, timeout)

	var expired <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		expired = timer.C
	}

	select {
	case line, ok := <-m.lines:
		if !ok || line.err != nil {
			return nil, &CancelledError{SignalName: signal.Name, Err: line.err}
		}

		return line.text, nil

	case <-expired:
		fmt.Fprintf(m.out, "\nNo input received for signal %q within %s.\n", signal.Name, timeout)

		return nil, &TimeoutError{SignalName: signal.Name, Timeout: timeout}

	case <-ctx.Done():
		return nil, &CancelledError{SignalName: signal.Name, Err: ctx.Err()}
	}
}

// Cleanup drops registered handlers. Operator prompts have no registrations
// to release; an abandoned prompt is simply superseded by the next one.
func (m *ConsoleMailbox) Cleanup(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(names) == 0 {
		m.handlers = make(map[string][]Handler)

		return
	}

	for _, name := range names {
		delete(m.handlers, name)
	}
}

// CleanupOwned is a no-op: the console backend holds no registrations to
// scope by owner.
func (m *ConsoleMailbox) CleanupOwned(_ string, _ ...string) {}

// PendingWaiters is always zero: the console backend never holds
// registrations, the operator answers prompts directly.
func (m *ConsoleMailbox) PendingWaiters(_ string) int {
	return 0
}

func (m *ConsoleMailbox) HandlerCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.handlers[name])
}

func (m *ConsoleMailbox) prompt(signal models.Signal, timeout time.Duration) {
	fmt.Fprintf(m.out, "\nWorkflow waiting for signal %q", signal.Name)

	if signal.Description != "" {
		fmt.Fprintf(m.out, " (%s)", signal.Description)
	}

	if timeout > 0 {
		fmt.Fprintf(m.out, " [timeout %s]", timeout)
	}

	fmt.Fprint(m.out, "\nEnter value: ")
}

// startReader pumps operator input off the blocking reader onto a channel.
// Started lazily on the first wait so a mailbox that is never waited on
// never touches stdin.
func (m *ConsoleMailbox) startReader() {
	reader := bufio.NewReader(m.in)

	go func() {
		for {
			text, err := reader.ReadString('\n')
			if err != nil {
				m.lines <- consoleLine{err: err}

				return
			}

			m.lines <- consoleLine{text: strings.TrimSpace(text)}
		}
	}()
}

func (m *ConsoleMailbox) invokeHandler(ctx context.Context, handler Handler, signal models.Signal) {
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
