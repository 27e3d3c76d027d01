// Package mocks provides test doubles shared across package tests.
package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fermata-dev/fermata/pkg/eventbus"
	"github.com/fermata-dev/fermata/pkg/events"
)

// CapturingEventBus records published events in memory. Handle and
// Subscribe are no-ops; use a gochannel-backed bus when delivery matters.
type CapturingEventBus struct {
	mu        sync.Mutex
	published []eventbus.Event

	// PublishErr, when set, is returned by every Publish call.
	PublishErr error
}

func NewCapturingEventBus() *CapturingEventBus {
	return &CapturingEventBus{}
}

func (b *CapturingEventBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	if b.PublishErr != nil {
		return b.PublishErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, event)

	return nil
}

func (b *CapturingEventBus) Handle(_ events.EventType, _ eventbus.EventHandler) error {
	return nil
}

func (b *CapturingEventBus) Subscribe(_ context.Context) error {
	return nil
}

func (b *CapturingEventBus) Close() error {
	return nil
}

func (b *CapturingEventBus) GenerateID() string {
	return uuid.New().String()
}

// Events returns a copy of everything published so far.
func (b *CapturingEventBus) Events() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]eventbus.Event(nil), b.published...)
}

// Last returns the most recently published event, nil when nothing was
// published.
func (b *CapturingEventBus) Last() eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.published) == 0 {
		return nil
	}

	return b.published[len(b.published)-1]
}

// ByType filters published events by their event type.
func (b *CapturingEventBus) ByType(eventType events.EventType) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	matching := make([]eventbus.Event, 0)

	for _, event := range b.published {
		if event.GetType() == eventType {
			matching = append(matching, event)
		}
	}

	return matching
}
