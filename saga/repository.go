package saga

import (
	"context"
	"fmt"

	"libranexus/eventlog"
	"libranexus/eventstore"
	"libranexus/ids"
)

// Repository persists a saga's own events to a reserved stream
// (aggregate_type = "saga.<SagaType()>") and folds them into State on load.
// It is deliberately a thin wrapper over the ordinary EventStore contract:
// sagas are not a special storage concept, just a naming convention over
// ordinary streams.
type Repository[State any, SagaEvent eventlog.Event, CorrelationID comparable] struct {
	store  eventstore.EventStore
	saga   Saga[State, SagaEvent, CorrelationID]
	decode func(eventType string, payload []byte) (SagaEvent, error)
}

func NewRepository[State any, SagaEvent eventlog.Event, CorrelationID comparable](
	store eventstore.EventStore,
	s Saga[State, SagaEvent, CorrelationID],
	decode func(eventType string, payload []byte) (SagaEvent, error),
) *Repository[State, SagaEvent, CorrelationID] {
	return &Repository[State, SagaEvent, CorrelationID]{store: store, saga: s, decode: decode}
}

func (r *Repository[State, SagaEvent, CorrelationID]) streamAggregateType() string {
	return "saga." + r.saga.SagaType()
}

// Load folds the saga instance's full history into State, returning the
// initial state and a zero version if no instance exists yet for this
// correlation.
func (r *Repository[State, SagaEvent, CorrelationID]) Load(ctx context.Context, tenantID ids.TenantId, correlation CorrelationID) (State, uint64, error) {
	instanceID := r.saga.InstanceID(tenantID, correlation)
	history, err := r.store.LoadStream(ctx, tenantID, instanceID)
	if err != nil {
		var zero State
		return zero, 0, fmt.Errorf("load saga stream: %w", err)
	}

	state := r.saga.InitialState()
	var version uint64
	for _, stored := range history {
		event, err := r.decode(stored.EventType, stored.Payload)
		if err != nil {
			var zero State
			return zero, 0, fmt.Errorf("decode saga event %s: %w", stored.EventID, err)
		}
		state = r.saga.Apply(state, event)
		version = stored.SequenceNumber
	}
	return state, version, nil
}

// AppendEmit persists one saga-produced event to the instance's reserved
// stream under ExpectedVersion::Any — sagas are single-writer by
// construction (one runner goroutine processes one incoming envelope at a
// time per instance), so the optimistic-concurrency precondition that
// matters for ordinary aggregates isn't needed here.
func (r *Repository[State, SagaEvent, CorrelationID]) AppendEmit(ctx context.Context, tenantID ids.TenantId, correlation CorrelationID, event SagaEvent) (eventlog.StoredEvent, error) {
	instanceID := r.saga.InstanceID(tenantID, correlation)
	uncommitted, err := eventlog.FromTyped(tenantID, instanceID, r.streamAggregateType(), event)
	if err != nil {
		return eventlog.StoredEvent{}, fmt.Errorf("encode saga event: %w", err)
	}
	stored, err := r.store.Append(ctx, []eventlog.UncommittedEvent{uncommitted}, eventlog.Any())
	if err != nil {
		return eventlog.StoredEvent{}, fmt.Errorf("append saga event: %w", err)
	}
	return stored[0], nil
}
