package eventstore

import (
	"context"
	"encoding/json"
	"testing"

	"pgregory.net/rapid"

	"libranexus/eventlog"
	"libranexus/ids"
)

// TestSequenceNumbersAreContiguousAndMonotonic generates random interleavings
// of tenants and append batch sizes against one aggregate id, and checks that
// every stream's stored sequence numbers are exactly 1..N with no gaps and no
// tenant ever observing another tenant's events.
func TestSequenceNumbersAreContiguousAndMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := NewInMemoryEventStore()
		ctx := context.Background()

		tenantCount := rapid.IntRange(1, 3).Draw(t, "tenantCount")
		tenants := make([]ids.TenantId, tenantCount)
		for i := range tenants {
			tenants[i] = ids.NewTenantId()
		}
		aggregate := ids.NewAggregateId()

		perTenantCount := make(map[ids.TenantId]uint64)
		appends := rapid.IntRange(1, 20).Draw(t, "appends")

		for i := 0; i < appends; i++ {
			tenant := tenants[rapid.IntRange(0, tenantCount-1).Draw(t, "tenantIdx")]
			batchSize := rapid.IntRange(1, 4).Draw(t, "batchSize")

			batch := make([]eventlog.UncommittedEvent, batchSize)
			for j := range batch {
				payload, err := json.Marshal(map[string]int{"i": i, "j": j})
				if err != nil {
					t.Fatal(err)
				}
				batch[j] = eventlog.UncommittedEvent{
					EventID:       ids.NewEventId(),
					TenantID:      tenant,
					AggregateID:   aggregate,
					AggregateType: "test.aggregate",
					EventType:     "appended",
					EventVersion:  1,
					Payload:       payload,
				}
			}

			current := perTenantCount[tenant]
			var expected eventlog.ExpectedVersion
			if current == 0 {
				expected = eventlog.NoStream()
			} else {
				expected = eventlog.Exact(current)
			}

			stored, err := store.Append(ctx, batch, expected)
			if err != nil {
				t.Fatalf("unexpected append failure: %v", err)
			}
			for k, e := range stored {
				if e.SequenceNumber != current+uint64(k)+1 {
					t.Fatalf("non-contiguous sequence: want %d got %d", current+uint64(k)+1, e.SequenceNumber)
				}
			}
			perTenantCount[tenant] = current + uint64(batchSize)
		}

		for _, tenant := range tenants {
			stream, err := store.LoadStream(ctx, tenant, aggregate)
			if err != nil {
				t.Fatal(err)
			}
			if uint64(len(stream)) != perTenantCount[tenant] {
				t.Fatalf("tenant %s: want %d events, got %d", tenant, perTenantCount[tenant], len(stream))
			}
			for _, e := range stream {
				if e.TenantID != tenant {
					t.Fatalf("tenant isolation violated: stream for %s contains event for %s", tenant, e.TenantID)
				}
			}
		}
	})
}

// TestConcurrencyConflictAlwaysRejectsStaleExpectedVersion generates a
// sequence of appends against a single stream and checks that any append
// whose expected version doesn't match the stream's true current version is
// always rejected, regardless of how many events already exist.
func TestConcurrencyConflictAlwaysRejectsStaleExpectedVersion(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := NewInMemoryEventStore()
		ctx := context.Background()
		tenant := ids.NewTenantId()
		aggregate := ids.NewAggregateId()

		var current uint64
		rounds := rapid.IntRange(0, 10).Draw(t, "rounds")
		for i := 0; i < rounds; i++ {
			payload, _ := json.Marshal(map[string]int{"i": i})
			var expected eventlog.ExpectedVersion
			if current == 0 {
				expected = eventlog.NoStream()
			} else {
				expected = eventlog.Exact(current)
			}
			stored, err := store.Append(ctx, []eventlog.UncommittedEvent{{
				EventID: ids.NewEventId(), TenantID: tenant, AggregateID: aggregate,
				AggregateType: "test.aggregate", EventType: "appended", EventVersion: 1,
				Payload: payload,
			}}, expected)
			if err != nil {
				t.Fatalf("valid append rejected: %v", err)
			}
			current = stored[0].SequenceNumber
		}

		staleOffset := rapid.IntRange(1, 5).Draw(t, "staleOffset")
		var stale eventlog.ExpectedVersion
		if uint64(staleOffset) <= current {
			stale = eventlog.Exact(current - uint64(staleOffset))
		} else {
			stale = eventlog.Exact(current + uint64(staleOffset))
		}

		payload, _ := json.Marshal(map[string]int{"i": -1})
		_, err := store.Append(ctx, []eventlog.UncommittedEvent{{
			EventID: ids.NewEventId(), TenantID: tenant, AggregateID: aggregate,
			AggregateType: "test.aggregate", EventType: "appended", EventVersion: 1,
			Payload: payload,
		}}, stale)
		if err == nil {
			t.Fatalf("expected concurrency conflict for stale expected version, got none")
		}
	})
}
