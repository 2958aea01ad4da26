package eventstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/eventlog"
	"libranexus/ids"
)

func mustUncommitted(t *testing.T, tenantID ids.TenantId, aggregateID ids.AggregateId, eventType string) eventlog.UncommittedEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"k": "v"})
	require.NoError(t, err)
	return eventlog.UncommittedEvent{
		EventID:       ids.NewEventId(),
		TenantID:      tenantID,
		AggregateID:   aggregateID,
		AggregateType: "test.aggregate",
		EventType:     eventType,
		EventVersion:  1,
		Payload:       payload,
	}
}

func TestInMemoryEventStore_AppendAssignsContiguousSequence(t *testing.T) {
	store := NewInMemoryEventStore()
	ctx := context.Background()
	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()

	stored, err := store.Append(ctx, []eventlog.UncommittedEvent{
		mustUncommitted(t, tenant, aggregate, "created"),
		mustUncommitted(t, tenant, aggregate, "updated"),
	}, eventlog.NoStream())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, uint64(1), stored[0].SequenceNumber)
	assert.Equal(t, uint64(2), stored[1].SequenceNumber)

	more, err := store.Append(ctx, []eventlog.UncommittedEvent{
		mustUncommitted(t, tenant, aggregate, "updated"),
	}, eventlog.Exact(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), more[0].SequenceNumber)
}

func TestInMemoryEventStore_ConcurrencyConflict(t *testing.T) {
	store := NewInMemoryEventStore()
	ctx := context.Background()
	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()

	_, err := store.Append(ctx, []eventlog.UncommittedEvent{
		mustUncommitted(t, tenant, aggregate, "created"),
	}, eventlog.NoStream())
	require.NoError(t, err)

	_, err = store.Append(ctx, []eventlog.UncommittedEvent{
		mustUncommitted(t, tenant, aggregate, "created"),
	}, eventlog.NoStream())
	require.Error(t, err)
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, ErrKindConcurrency, storeErr.Kind)
}

func TestInMemoryEventStore_TenantIsolation(t *testing.T) {
	store := NewInMemoryEventStore()
	ctx := context.Background()
	tenantA := ids.NewTenantId()
	tenantB := ids.NewTenantId()
	aggregate := ids.NewAggregateId()

	_, err := store.Append(ctx, []eventlog.UncommittedEvent{
		mustUncommitted(t, tenantA, aggregate, "created"),
	}, eventlog.NoStream())
	require.NoError(t, err)

	// Same aggregate id under a different tenant is a logically distinct
	// stream: its append must see no prior history.
	stored, err := store.Append(ctx, []eventlog.UncommittedEvent{
		mustUncommitted(t, tenantB, aggregate, "created"),
	}, eventlog.NoStream())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored[0].SequenceNumber)

	streamA, err := store.LoadStream(ctx, tenantA, aggregate)
	require.NoError(t, err)
	assert.Len(t, streamA, 1)

	streamB, err := store.LoadStream(ctx, tenantB, aggregate)
	require.NoError(t, err)
	assert.Len(t, streamB, 1)
}

func TestInMemoryEventStore_AggregateTypeMismatchRejected(t *testing.T) {
	store := NewInMemoryEventStore()
	ctx := context.Background()
	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()

	_, err := store.Append(ctx, []eventlog.UncommittedEvent{
		mustUncommitted(t, tenant, aggregate, "created"),
	}, eventlog.NoStream())
	require.NoError(t, err)

	mismatched := mustUncommitted(t, tenant, aggregate, "created")
	mismatched.AggregateType = "other.type"

	_, err = store.Append(ctx, []eventlog.UncommittedEvent{mismatched}, eventlog.Exact(1))
	require.Error(t, err)
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, ErrKindAggregateTypeMismatch, storeErr.Kind)
}

func TestInMemoryEventStore_EmptyLoadIsEmptySlice(t *testing.T) {
	store := NewInMemoryEventStore()
	events, err := store.LoadStream(context.Background(), ids.NewTenantId(), ids.NewAggregateId())
	require.NoError(t, err)
	assert.Empty(t, events)
}
