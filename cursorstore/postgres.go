package cursorstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"libranexus/ids"
)

// PostgresCursorStore persists cursors in a projection_offsets table keyed
// by (tenant_id, aggregate_id, projection_name), matching the schema the
// original implementation's sqlx-backed cursor store used.
type PostgresCursorStore struct {
	db *sqlx.DB
}

func NewPostgresCursorStore(db *sqlx.DB) *PostgresCursorStore {
	return &PostgresCursorStore{db: db}
}

// Schema is the DDL this store expects to already exist.
const Schema = `
CREATE TABLE IF NOT EXISTS projection_offsets (
	tenant_id       UUID NOT NULL,
	aggregate_id    UUID NOT NULL,
	projection_name TEXT NOT NULL,
	sequence_number BIGINT NOT NULL,
	PRIMARY KEY (tenant_id, aggregate_id, projection_name)
);
`

func (s *PostgresCursorStore) GetCursor(ctx context.Context, key CursorKey) (uint64, bool, error) {
	var seq uint64
	err := s.db.GetContext(ctx, &seq, `
		SELECT sequence_number FROM projection_offsets
		WHERE tenant_id = $1 AND aggregate_id = $2 AND projection_name = $3
	`, key.TenantID.String(), key.AggregateID.String(), key.ProjectionName)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	return seq, true, nil
}

func (s *PostgresCursorStore) UpdateCursor(ctx context.Context, key CursorKey, sequenceNumber uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_offsets (tenant_id, aggregate_id, projection_name, sequence_number)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, aggregate_id, projection_name) DO UPDATE SET sequence_number = EXCLUDED.sequence_number
	`, key.TenantID.String(), key.AggregateID.String(), key.ProjectionName, sequenceNumber)
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}

func (s *PostgresCursorStore) ClearCursors(ctx context.Context, tenantID ids.TenantId, projectionName string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM projection_offsets WHERE tenant_id = $1 AND projection_name = $2
	`, tenantID.String(), projectionName)
	if err != nil {
		return fmt.Errorf("clear cursors: %w", err)
	}
	return nil
}
