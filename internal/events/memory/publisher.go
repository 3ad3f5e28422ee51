// Package memory contains an in-memory event publisher for dev/tests.
package memory

import (
	"context"
	"sync"

	"github.com/Decentralised-AI/aitino/internal/lead"
)

// Publisher stores accepted-lead events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []lead.AcceptedEvent
}

var _ lead.EventPublisher = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// PublishAccepted records the event.
func (p *Publisher) PublishAccepted(_ context.Context, event lead.AcceptedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns the recorded events.
func (p *Publisher) Events() []lead.AcceptedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]lead.AcceptedEvent, len(p.events))
	copy(out, p.events)
	return out
}
