// Package scheduler publishes signals and execution requests on cron
// schedules, so workflows can wait on time-driven events the same way they
// wait on operator- or API-driven ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fermata-dev/fermata/pkg/eventbus"
	"github.com/fermata-dev/fermata/pkg/events"
	"github.com/fermata-dev/fermata/pkg/mailbox"
	"github.com/fermata-dev/fermata/pkg/models"
)

// Entry is one scheduled emission. Exactly one of Signal or WorkflowName
// must be set: a signal entry publishes a SignalDispatched event, a workflow
// entry publishes an ExecutionRequested event.
type Entry struct {
	Name         string         `json:"name"          validate:"required"`
	Cron         string         `json:"cron"          validate:"required"`
	Enabled      bool           `json:"enabled"`
	Signal       *models.Signal `json:"signal,omitempty"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
}

type Scheduler struct {
	entries  []Entry
	eventBus eventbus.EventBus
	mailbox  mailbox.Mailbox
	logger   *slog.Logger
	cron     *cron.Cron

	mu   sync.RWMutex
	jobs map[string]cron.EntryID
}

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithMailbox dispatches signal entries straight into the given mailbox
// instead of publishing them on the bus. Workflow entries still go over the
// bus; only a worker can act on them.
func WithMailbox(mb mailbox.Mailbox) Option {
	return func(s *Scheduler) {
		s.mailbox = mb
	}
}

func NewScheduler(eventBus eventbus.EventBus, logger *slog.Logger, entries []Entry, opts ...Option) *Scheduler {
	s := &Scheduler{
		entries:  entries,
		eventBus: eventBus,
		logger:   logger.With("module", "scheduler"),
		jobs:     make(map[string]cron.EntryID),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Scheduler) Validate() error {
	if len(s.entries) == 0 {
		return errors.New("no schedule entries configured")
	}

	for _, entry := range s.entries {
		if entry.Name == "" {
			return errors.New("schedule entry name is required")
		}

		if _, err := cron.ParseStandard(entry.Cron); err != nil {
			return fmt.Errorf("invalid cron expression '%s' for entry %s: %w", entry.Cron, entry.Name, err)
		}

		hasSignal := entry.Signal != nil
		hasWorkflow := entry.WorkflowName != ""

		if hasSignal == hasWorkflow {
			return fmt.Errorf("entry %s must set exactly one of signal or workflow_name", entry.Name)
		}

		if hasSignal && entry.Signal.Name == "" {
			return fmt.Errorf("entry %s has a signal without a name", entry.Name)
		}
	}

	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	for _, entry := range s.entries {
		if err := s.addEntry(ctx, entry); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "entries", len(s.jobs))

	return nil
}

// Stop halts the cron loop and waits for in-flight jobs to finish, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs lists the names of the scheduled entries.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}

	return names
}

func (s *Scheduler) addEntry(ctx context.Context, entry Entry) error {
	logger := s.logger.With("entry", entry.Name)

	if !entry.Enabled {
		logger.InfoContext(ctx, "Schedule entry disabled, skipping")

		return nil
	}

	entryID, err := s.cron.AddFunc(entry.Cron, func() {
		s.fire(ctx, entry)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for entry %s: %w", entry.Name, err)
	}

	s.mu.Lock()
	s.jobs[entry.Name] = entryID
	s.mu.Unlock()

	logger.InfoContext(ctx, "Added schedule entry", "cron", entry.Cron)

	return nil
}

func (s *Scheduler) fire(ctx context.Context, entry Entry) {
	logger := s.logger.With("entry", entry.Name)

	var (
		event eventbus.Event
		key   string
	)

	if entry.Signal != nil {
		signal := *entry.Signal

		metadata := make(map[string]any, len(signal.Metadata)+2)
		for k, v := range signal.Metadata {
			metadata[k] = v
		}

		signal.Metadata = metadata

		signal.Metadata["scheduled_by"] = entry.Name
		signal.Metadata["fired_at"] = time.Now().UTC().Format(time.RFC3339)

		if s.mailbox != nil {
			if err := s.mailbox.Signal(ctx, signal); err != nil {
				logger.ErrorContext(ctx, "Failed to dispatch scheduled signal", "error", err)

				return
			}

			logger.DebugContext(ctx, "Dispatched scheduled signal", "signal", signal.Name)

			return
		}

		event = events.SignalDispatched{
			BaseEvent: events.NewBaseEvent(events.SignalDispatchedEvent, signal.WorkflowID),
			Signal:    signal,
		}
		key = signal.Name
	} else {
		event = events.ExecutionRequested{
			BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, ""),
			WorkflowName: entry.WorkflowName,
			Input:        entry.Input,
		}
		key = entry.WorkflowName
	}

	if err := s.eventBus.Publish(ctx, key, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish scheduled event", "error", err)

		return
	}

	logger.DebugContext(ctx, "Published scheduled event", "event_type", event.GetType())
}
