// Package eventbus provides pub/sub fan-out of committed event envelopes to
// in-process consumers: an in-memory, best-effort implementation for tests
// and single-process deployments, and a NATS JetStream-backed implementation
// offering durable, acknowledged, consumer-group delivery.
package eventbus

import (
	"context"
	"sync"

	"libranexus/eventlog"
)

// EventBus is the contract the dispatcher's PublishingEventStore and every
// projection/saga runner depend on.
type EventBus interface {
	Publish(ctx context.Context, envelope eventlog.EventEnvelope) error
	Subscribe() Subscription
}

// Subscription is a single consumer's view of the bus: a channel of
// envelopes plus a way to stop receiving.
type Subscription interface {
	Envelopes() <-chan eventlog.EventEnvelope
	Close()
}

// InMemoryEventBus is a mutex-guarded slice of per-subscriber channels.
// Publish pushes to every live subscriber, silently drops the envelope for
// any subscriber whose buffer is full, and removes subscribers that have
// already closed — the same best-effort, no-
// backpressure semantics as the reference in-memory bus this is grounded
// on: a slow or gone subscriber never blocks a publisher.
type InMemoryEventBus struct {
	mu   sync.Mutex
	subs []*inMemorySubscription
}

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{}
}

type inMemorySubscription struct {
	ch     chan eventlog.EventEnvelope
	closed bool
}

func (s *inMemorySubscription) Envelopes() <-chan eventlog.EventEnvelope { return s.ch }
func (s *inMemorySubscription) Close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (b *InMemoryEventBus) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &inMemorySubscription{ch: make(chan eventlog.EventEnvelope, 256)}
	b.subs = append(b.subs, sub)
	return sub
}

func (b *InMemoryEventBus) Publish(ctx context.Context, envelope eventlog.EventEnvelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := b.subs[:0]
	for _, sub := range b.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- envelope:
			live = append(live, sub)
		default:
			// Subscriber's buffer is full; drop rather than block the
			// publisher. A durable redelivery guarantee belongs to
			// JetStreamEventBus, not this best-effort variant.
			live = append(live, sub)
		}
	}
	b.subs = live
	return nil
}
