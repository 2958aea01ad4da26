package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libranexus/eventlog"
	"libranexus/ids"
)

// PostgresEventQuery answers filtered, paginated queries against the same
// "events" table PostgresEventStore appends to: a LIMIT/OFFSET-paginated
// query with a tenant-scoped WHERE clause and optional filter predicates.
type PostgresEventQuery struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresEventQuery(db *sql.DB) *PostgresEventQuery {
	return &PostgresEventQuery{db: db, tracer: otel.Tracer("libranexus/eventstore")}
}

func (q *PostgresEventQuery) QueryEvents(ctx context.Context, tenantID ids.TenantId, filter EventFilter, page Pagination) (EventQueryResult, error) {
	page = NewPagination(page.Limit, page.Offset)

	ctx, span := q.tracer.Start(ctx, "eventstore.query",
		trace.WithAttributes(attribute.String("tenant.id", tenantID.String())))
	defer span.End()

	where := []string{"tenant_id = $1"}
	args := []any{tenantID.String()}

	if filter.AggregateID != nil {
		args = append(args, filter.AggregateID.String())
		where = append(where, fmt.Sprintf("aggregate_id = $%d", len(args)))
	}
	if filter.AggregateType != "" {
		args = append(args, filter.AggregateType)
		where = append(where, fmt.Sprintf("aggregate_type = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.OccurredAfter != nil {
		args = append(args, *filter.OccurredAfter)
		where = append(where, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if filter.OccurredBefore != nil {
		args = append(args, *filter.OccurredBefore)
		where = append(where, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM events WHERE " + whereClause
	if err := q.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return EventQueryResult{}, fmt.Errorf("count events: %w", err)
	}

	limitArgs := append(append([]any{}, args...), page.Limit, page.Offset)
	listQuery := fmt.Sprintf(`
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_version, sequence_number, occurred_at, payload
		FROM events
		WHERE %s
		ORDER BY occurred_at DESC, sequence_number ASC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)+1, len(args)+2)

	rows, err := q.db.QueryContext(ctx, listQuery, limitArgs...)
	if err != nil {
		return EventQueryResult{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []eventlog.StoredEvent
	for rows.Next() {
		var (
			eventIDStr, aggregateIDStr, aggType, eventType string
			eventVersion                                   uint32
			seq                                            uint64
			occurredAt                                      time.Time
			payload                                         []byte
		)
		if err := rows.Scan(&eventIDStr, &aggregateIDStr, &aggType, &eventType, &eventVersion, &seq, &occurredAt, &payload); err != nil {
			return EventQueryResult{}, fmt.Errorf("scan event: %w", err)
		}
		eventID, err := ids.ParseEventId(eventIDStr)
		if err != nil {
			return EventQueryResult{}, fmt.Errorf("parse event id: %w", err)
		}
		aggregateID, err := ids.ParseAggregateId(aggregateIDStr)
		if err != nil {
			return EventQueryResult{}, fmt.Errorf("parse aggregate id: %w", err)
		}
		events = append(events, eventlog.StoredEvent{
			UncommittedEvent: eventlog.UncommittedEvent{
				EventID:       eventID,
				TenantID:      tenantID,
				AggregateID:   aggregateID,
				AggregateType: aggType,
				EventType:     eventType,
				EventVersion:  eventVersion,
				OccurredAt:    occurredAt,
				Payload:       json.RawMessage(payload),
			},
			SequenceNumber: seq,
		})
	}
	if err := rows.Err(); err != nil {
		return EventQueryResult{}, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.matched", total), attribute.Int("events.returned", len(events)))

	return EventQueryResult{
		Events:     events,
		Total:      total,
		Pagination: page,
		HasMore:    page.Offset+len(events) < total,
	}, nil
}

func (q *PostgresEventQuery) GetAggregateEvents(ctx context.Context, tenantID ids.TenantId, aggregateID ids.AggregateId) ([]eventlog.StoredEvent, error) {
	result, err := q.QueryEvents(ctx, tenantID, EventFilter{AggregateID: &aggregateID}, NewPagination(1000, 0))
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

func (q *PostgresEventQuery) GetEventByID(ctx context.Context, tenantID ids.TenantId, eventID ids.EventId) (*eventlog.StoredEvent, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT aggregate_id, aggregate_type, event_type, event_version, sequence_number, occurred_at, payload
		FROM events WHERE tenant_id = $1 AND event_id = $2
	`, tenantID.String(), eventID.String())

	var (
		aggregateIDStr, aggType, eventType string
		eventVersion                       uint32
		seq                                uint64
		occurredAt                         time.Time
		payload                            []byte
	)
	if err := row.Scan(&aggregateIDStr, &aggType, &eventType, &eventVersion, &seq, &occurredAt, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	aggregateID, err := ids.ParseAggregateId(aggregateIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse aggregate id: %w", err)
	}
	return &eventlog.StoredEvent{
		UncommittedEvent: eventlog.UncommittedEvent{
			EventID:       eventID,
			TenantID:      tenantID,
			AggregateID:   aggregateID,
			AggregateType: aggType,
			EventType:     eventType,
			EventVersion:  eventVersion,
			OccurredAt:    occurredAt,
			Payload:       json.RawMessage(payload),
		},
		SequenceNumber: seq,
	}, nil
}
