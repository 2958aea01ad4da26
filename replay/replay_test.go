package replay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/eventlog"
	"libranexus/eventstore"
	"libranexus/ids"
)

func seedEvents(t *testing.T, store *eventstore.InMemoryEventStore, tenant ids.TenantId, count int) {
	t.Helper()
	ctx := context.Background()
	aggregate := ids.NewAggregateId()
	for i := 0; i < count; i++ {
		payload, _ := json.Marshal(map[string]int{"i": i})
		expected := eventlog.Exact(uint64(i))
		if i == 0 {
			expected = eventlog.NoStream()
		}
		_, err := store.Append(ctx, []eventlog.UncommittedEvent{{
			EventID: ids.NewEventId(), TenantID: tenant, AggregateID: aggregate,
			AggregateType: "test.aggregate", EventType: "tick", EventVersion: 1, Payload: payload,
		}}, expected)
		require.NoError(t, err)
	}
}

func TestCoordinator_ReplayAppliesEventsInOrderAndCompletes(t *testing.T) {
	store := eventstore.NewInMemoryEventStore()
	tenant := ids.NewTenantId()
	seedEvents(t, store, tenant, 5)

	query := eventstore.NewInMemoryEventQuery(store)
	coordinator := NewCoordinator(query, 0)

	var mu sync.Mutex
	var appliedSeqs []uint64
	clearCalled := false

	apply := func(ctx context.Context, envelope eventlog.EventEnvelope) error {
		mu.Lock()
		appliedSeqs = append(appliedSeqs, envelope.SequenceNumber)
		mu.Unlock()
		return nil
	}
	clear := func(ctx context.Context, tenantID ids.TenantId) error {
		clearCalled = true
		return nil
	}

	handle := coordinator.Replay(context.Background(), tenant, nil, false, apply, clear)
	require.NoError(t, handle.WaitForCompletion(context.Background()))

	assert.True(t, clearCalled)
	progress := handle.Progress()
	assert.Equal(t, PhaseComplete, progress.Phase)
	assert.Equal(t, 5, progress.ProcessedEvents)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, appliedSeqs)
}

func TestCoordinator_DryRunNeverClears(t *testing.T) {
	store := eventstore.NewInMemoryEventStore()
	tenant := ids.NewTenantId()
	seedEvents(t, store, tenant, 2)

	query := eventstore.NewInMemoryEventQuery(store)
	coordinator := NewCoordinator(query, 0)

	clearCalled := false
	handle := coordinator.Replay(context.Background(), tenant, nil, true,
		func(ctx context.Context, envelope eventlog.EventEnvelope) error { return nil },
		func(ctx context.Context, tenantID ids.TenantId) error { clearCalled = true; return nil },
	)
	require.NoError(t, handle.WaitForCompletion(context.Background()))
	assert.False(t, clearCalled)
}

func TestCoordinator_CancelStopsReplay(t *testing.T) {
	store := eventstore.NewInMemoryEventStore()
	tenant := ids.NewTenantId()
	seedEvents(t, store, tenant, 50)

	query := eventstore.NewInMemoryEventQuery(store)
	coordinator := NewCoordinator(query, 0)

	handle := coordinator.Replay(context.Background(), tenant, nil, true,
		func(ctx context.Context, envelope eventlog.EventEnvelope) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
		func(ctx context.Context, tenantID ids.TenantId) error { return nil },
	)
	handle.Cancel()

	err := handle.WaitForCompletion(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, handle.Progress().Phase)
}
