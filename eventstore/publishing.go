package eventstore

import (
	"context"

	"libranexus/eventlog"
	"libranexus/ids"
)

// Publisher is the minimal surface PublishingEventStore needs from an event
// bus. eventbus.InMemoryEventBus and eventbus.JetStreamEventBus both satisfy
// it without either package importing the other.
type Publisher interface {
	Publish(ctx context.Context, envelope eventlog.EventEnvelope) error
}

// PublishingEventStore decorates any EventStore so that every successfully
// appended batch is published to the bus immediately afterward, in sequence
// order. If publishing any envelope fails, the append itself has already
// committed — the caller sees a Publish error and the dispatcher surfaces it,
// but the events are durable and recoverable via the replay coordinator.
type PublishingEventStore struct {
	inner EventStore
	bus   Publisher
}

func NewPublishingEventStore(inner EventStore, bus Publisher) *PublishingEventStore {
	return &PublishingEventStore{inner: inner, bus: bus}
}

func (p *PublishingEventStore) Append(ctx context.Context, events []eventlog.UncommittedEvent, expected eventlog.ExpectedVersion) ([]eventlog.StoredEvent, error) {
	stored, err := p.inner.Append(ctx, events, expected)
	if err != nil {
		return nil, err
	}
	for _, e := range stored {
		if err := p.bus.Publish(ctx, e.ToEnvelope()); err != nil {
			return stored, publishErr("publish event %s: %v", e.EventID, err)
		}
	}
	return stored, nil
}

func (p *PublishingEventStore) LoadStream(ctx context.Context, tenantID ids.TenantId, aggregateID ids.AggregateId) ([]eventlog.StoredEvent, error) {
	return p.inner.LoadStream(ctx, tenantID, aggregateID)
}
