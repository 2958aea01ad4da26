package eventstore

// Schema is the DDL PostgresEventStore and PostgresEventQuery expect to be
// applied by the operator's migration tooling before first use. It is not
// run automatically — the engine never owns schema migration.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id        UUID PRIMARY KEY,
	tenant_id       UUID NOT NULL,
	aggregate_id    UUID NOT NULL,
	aggregate_type  TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	event_version   INTEGER NOT NULL,
	sequence_number BIGINT NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	payload         JSONB NOT NULL,
	UNIQUE (tenant_id, aggregate_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS events_tenant_aggregate_idx ON events (tenant_id, aggregate_id);
CREATE INDEX IF NOT EXISTS events_tenant_type_idx ON events (tenant_id, aggregate_type);
CREATE INDEX IF NOT EXISTS events_tenant_occurred_idx ON events (tenant_id, occurred_at);
`
