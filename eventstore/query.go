package eventstore

import (
	"context"
	"sort"
	"time"

	"libranexus/eventlog"
	"libranexus/ids"
)

// Pagination bounds a query's result window. NewPagination caps Limit at 1000 and
// defaults it to 50 when zero, so a careless caller can't force an
// unbounded scan.
type Pagination struct {
	Limit  int
	Offset int
}

func NewPagination(limit, offset int) Pagination {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}

// EventFilter narrows a query beyond the mandatory tenant scope.
type EventFilter struct {
	AggregateID    *ids.AggregateId
	AggregateType  string
	EventType      string
	OccurredAfter  *time.Time
	OccurredBefore *time.Time
}

func (f EventFilter) matches(e eventlog.StoredEvent) bool {
	if f.AggregateID != nil && e.AggregateID != *f.AggregateID {
		return false
	}
	if f.AggregateType != "" && e.AggregateType != f.AggregateType {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.OccurredAfter != nil && e.OccurredAt.Before(*f.OccurredAfter) {
		return false
	}
	if f.OccurredBefore != nil && e.OccurredAt.After(*f.OccurredBefore) {
		return false
	}
	return true
}

// EventQueryResult is what every EventQuery implementation returns: the
// page of events, the total matching count (pre-pagination), the pagination
// that produced this page, and whether more pages remain.
type EventQueryResult struct {
	Events     []eventlog.StoredEvent
	Total      int
	Pagination Pagination
	HasMore    bool
}

// EventQuery is the read-side counterpart to EventStore: filtered, paginated
// lookups used by the admin surface and the replay coordinator. Every query
// is mandatorily tenant-scoped.
type EventQuery interface {
	QueryEvents(ctx context.Context, tenantID ids.TenantId, filter EventFilter, page Pagination) (EventQueryResult, error)
	GetAggregateEvents(ctx context.Context, tenantID ids.TenantId, aggregateID ids.AggregateId) ([]eventlog.StoredEvent, error)
	GetEventByID(ctx context.Context, tenantID ids.TenantId, eventID ids.EventId) (*eventlog.StoredEvent, error)
}

// InMemoryEventQuery answers queries directly against an InMemoryEventStore,
// used by the replay coordinator's tests and the example domain.
type InMemoryEventQuery struct {
	store *InMemoryEventStore
}

func NewInMemoryEventQuery(store *InMemoryEventStore) *InMemoryEventQuery {
	return &InMemoryEventQuery{store: store}
}

func (q *InMemoryEventQuery) allForTenant(tenantID ids.TenantId) []eventlog.StoredEvent {
	q.store.mu.RLock()
	defer q.store.mu.RUnlock()

	var all []eventlog.StoredEvent
	for key, events := range q.store.streams {
		if key.tenantID != tenantID {
			continue
		}
		all = append(all, events...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].AggregateID != all[j].AggregateID {
			return all[i].AggregateID.String() < all[j].AggregateID.String()
		}
		return all[i].SequenceNumber < all[j].SequenceNumber
	})
	return all
}

func (q *InMemoryEventQuery) QueryEvents(ctx context.Context, tenantID ids.TenantId, filter EventFilter, page Pagination) (EventQueryResult, error) {
	page = NewPagination(page.Limit, page.Offset)

	var matched []eventlog.StoredEvent
	for _, e := range q.allForTenant(tenantID) {
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	start := page.Offset
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}

	return EventQueryResult{
		Events:     matched[start:end],
		Total:      total,
		Pagination: page,
		HasMore:    end < total,
	}, nil
}

func (q *InMemoryEventQuery) GetAggregateEvents(ctx context.Context, tenantID ids.TenantId, aggregateID ids.AggregateId) ([]eventlog.StoredEvent, error) {
	result, err := q.QueryEvents(ctx, tenantID, EventFilter{AggregateID: &aggregateID}, NewPagination(1000, 0))
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

func (q *InMemoryEventQuery) GetEventByID(ctx context.Context, tenantID ids.TenantId, eventID ids.EventId) (*eventlog.StoredEvent, error) {
	for _, e := range q.allForTenant(tenantID) {
		if e.EventID == eventID {
			out := e
			return &out, nil
		}
	}
	return nil, nil
}
