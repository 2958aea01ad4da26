// Package eventstore implements the append-only, tenant-isolated event log:
// an in-memory backend for tests and the example domain, a Postgres-backed
// backend for production use, and a publishing decorator that fans
// committed events out to an eventbus.EventBus after every successful
// append.
package eventstore

import (
	"context"
	"sync"

	"libranexus/eventlog"
	"libranexus/ids"
)

// EventStore is the append/load contract every backend satisfies. All
// events in a single Append call must share the same tenant, aggregate id
// and aggregate type; the store enforces this rather than trusting callers.
type EventStore interface {
	Append(ctx context.Context, events []eventlog.UncommittedEvent, expected eventlog.ExpectedVersion) ([]eventlog.StoredEvent, error)
	LoadStream(ctx context.Context, tenantID ids.TenantId, aggregateID ids.AggregateId) ([]eventlog.StoredEvent, error)
}

type streamKey struct {
	tenantID    ids.TenantId
	aggregateID ids.AggregateId
}

// InMemoryEventStore is a map-of-streams implementation used by tests and
// the in-process example domain. It enforces the same invariants the
// Postgres backend does: same tenant/aggregate/type per append batch,
// stable aggregate type across a stream's lifetime, and exact sequence
// assignment starting after the stream's current version.
type InMemoryEventStore struct {
	mu      sync.RWMutex
	streams map[streamKey][]eventlog.StoredEvent
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{streams: make(map[streamKey][]eventlog.StoredEvent)}
}

func (s *InMemoryEventStore) Append(ctx context.Context, events []eventlog.UncommittedEvent, expected eventlog.ExpectedVersion) ([]eventlog.StoredEvent, error) {
	if len(events) == 0 {
		return nil, invalidAppendErr("append requires at least one event")
	}

	tenantID := events[0].TenantID
	aggregateID := events[0].AggregateID
	aggregateType := events[0].AggregateType
	for _, e := range events[1:] {
		if e.TenantID != tenantID {
			return nil, tenantIsolationErr("append batch spans multiple tenants")
		}
		if e.AggregateID != aggregateID {
			return nil, invalidAppendErr("append batch spans multiple aggregates")
		}
		if e.AggregateType != aggregateType {
			return nil, aggregateTypeMismatchErr("append batch spans multiple aggregate types")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{tenantID, aggregateID}
	existing := s.streams[key]

	var current uint64
	if len(existing) > 0 {
		current = existing[len(existing)-1].SequenceNumber
		if existing[0].AggregateType != aggregateType {
			return nil, aggregateTypeMismatchErr(
				"stream %s already has aggregate type %q, got %q",
				aggregateID, existing[0].AggregateType, aggregateType)
		}
	}

	if !expected.Matches(current) {
		return nil, concurrencyErr(
			"expected version %s does not match current version %d for aggregate %s",
			expected, current, aggregateID)
	}

	stored := make([]eventlog.StoredEvent, 0, len(events))
	for i, e := range events {
		stored = append(stored, eventlog.StoredEvent{
			UncommittedEvent: e,
			SequenceNumber:   current + uint64(i) + 1,
		})
	}

	s.streams[key] = append(existing, stored...)

	out := make([]eventlog.StoredEvent, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *InMemoryEventStore) LoadStream(ctx context.Context, tenantID ids.TenantId, aggregateID ids.AggregateId) ([]eventlog.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := s.streams[streamKey{tenantID, aggregateID}]
	out := make([]eventlog.StoredEvent, len(existing))
	copy(out, existing)
	return out, nil
}
