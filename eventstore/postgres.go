package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libranexus/eventlog"
	"libranexus/ids"
)

// PostgresEventStore provides ACID append/load over a "events" table keyed
// by (tenant_id, aggregate_id, sequence_number): a version-check-then-insert
// transaction, generalized here with a tenant column and a unique index
// race fallback.
type PostgresEventStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{
		db:     db,
		tracer: otel.Tracer("libranexus/eventstore"),
	}
}

func (es *PostgresEventStore) Append(ctx context.Context, events []eventlog.UncommittedEvent, expected eventlog.ExpectedVersion) ([]eventlog.StoredEvent, error) {
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

	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.String("expected.version", expected.String()),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	tx, err := es.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current uint64
	var existingType sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0),
		       (SELECT aggregate_type FROM events
		        WHERE tenant_id = $1 AND aggregate_id = $2
		        ORDER BY sequence_number ASC LIMIT 1)
		FROM events
		WHERE tenant_id = $1 AND aggregate_id = $2
	`, tenantID.String(), aggregateID.String()).Scan(&current, &existingType)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query current version: %w", err)
	}

	if existingType.Valid && existingType.String != aggregateType {
		span.SetAttributes(attribute.Bool("aggregate_type.mismatch", true))
		return nil, aggregateTypeMismatchErr(
			"stream %s already has aggregate type %q, got %q",
			aggregateID, existingType.String, aggregateType)
	}

	if !expected.Matches(current) {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, concurrencyErr(
			"expected version %s does not match current version %d for aggregate %s",
			expected, current, aggregateID)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, tenant_id, aggregate_id, aggregate_type, event_type, event_version, sequence_number, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	stored := make([]eventlog.StoredEvent, 0, len(events))
	for i, e := range events {
		seq := current + uint64(i) + 1
		occurredAt := e.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}

		_, err = stmt.ExecContext(ctx,
			e.EventID.String(), tenantID.String(), aggregateID.String(), aggregateType,
			e.EventType, e.EventVersion, seq, occurredAt, []byte(e.Payload),
		)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return nil, concurrencyErr("concurrent append detected for aggregate %s", aggregateID)
			}
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}

		e.OccurredAt = occurredAt
		stored = append(stored, eventlog.StoredEvent{UncommittedEvent: e, SequenceNumber: seq})
		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.String("event.id", e.EventID.String()),
			attribute.Int64("sequence_number", int64(seq)),
			attribute.String("event.type", e.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return stored, nil
}

func (es *PostgresEventStore) LoadStream(ctx context.Context, tenantID ids.TenantId, aggregateID ids.AggregateId) ([]eventlog.StoredEvent, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("aggregate.id", aggregateID.String()),
		),
	)
	defer span.End()

	rows, err := es.db.QueryContext(ctx, `
		SELECT event_id, aggregate_type, event_type, event_version, sequence_number, occurred_at, payload
		FROM events
		WHERE tenant_id = $1 AND aggregate_id = $2
		ORDER BY sequence_number ASC
	`, tenantID.String(), aggregateID.String())
	if err != nil {
		return nil, fmt.Errorf("query stream: %w", err)
	}
	defer rows.Close()

	var out []eventlog.StoredEvent
	for rows.Next() {
		var (
			eventIDStr   string
			aggType      string
			eventType    string
			eventVersion uint32
			seq          uint64
			occurredAt   time.Time
			payload      []byte
		)
		if err := rows.Scan(&eventIDStr, &aggType, &eventType, &eventVersion, &seq, &occurredAt, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		eventID, err := ids.ParseEventId(eventIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		out = append(out, eventlog.StoredEvent{
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
		return nil, fmt.Errorf("iterate stream: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(out)))
	return out, nil
}
