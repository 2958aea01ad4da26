// Package cursorstore persists projection cursors — the last sequence
// number a named projection has consumed for a given (tenant, aggregate)
// stream — durably, so a process restart resumes rather than reprocessing
// or skipping.
package cursorstore

import (
	"context"
	"sync"

	"libranexus/ids"
)

type CursorKey struct {
	TenantID        ids.TenantId
	AggregateID     ids.AggregateId
	ProjectionName  string
}

// ProjectionCursorStore is the durable counterpart to the projection
// runner's in-memory cursor map: a runner may use only the in-memory map
// (lost on restart, forcing a rebuild) or back it with one of these.
type ProjectionCursorStore interface {
	GetCursor(ctx context.Context, key CursorKey) (uint64, bool, error)
	UpdateCursor(ctx context.Context, key CursorKey, sequenceNumber uint64) error
	ClearCursors(ctx context.Context, tenantID ids.TenantId, projectionName string) error
}

// InMemoryCursorStore is used by tests and as the process-memory default
// when a projection isn't given a persistent store.
type InMemoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[CursorKey]uint64
}

func NewInMemoryCursorStore() *InMemoryCursorStore {
	return &InMemoryCursorStore{cursors: make(map[CursorKey]uint64)}
}

func (s *InMemoryCursorStore) GetCursor(ctx context.Context, key CursorKey) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cursors[key]
	return v, ok, nil
}

func (s *InMemoryCursorStore) UpdateCursor(ctx context.Context, key CursorKey, sequenceNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[key] = sequenceNumber
	return nil
}

func (s *InMemoryCursorStore) ClearCursors(ctx context.Context, tenantID ids.TenantId, projectionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cursors {
		if k.TenantID == tenantID && k.ProjectionName == projectionName {
			delete(s.cursors, k)
		}
	}
	return nil
}
