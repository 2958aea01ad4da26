package readmodel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"libranexus/ids"
)

// PostgresTenantStore persists one projection's read model in a single
// table, keyed by (tenant_id, key), with the value stored as JSONB. Callers
// name their own table (one per projection) so different projections never
// share a namespace.
type PostgresTenantStore[V any] struct {
	db    *sqlx.DB
	table string
}

func NewPostgresTenantStore[V any](db *sqlx.DB, table string) *PostgresTenantStore[V] {
	return &PostgresTenantStore[V]{db: db, table: table}
}

type readModelRow struct {
	Value []byte `db:"value"`
}

func (s *PostgresTenantStore[V]) Get(ctx context.Context, tenantID ids.TenantId, key string) (V, bool, error) {
	var zero V
	var row readModelRow
	query := fmt.Sprintf("SELECT value FROM %s WHERE tenant_id = $1 AND key = $2", s.table)
	err := s.db.GetContext(ctx, &row, query, tenantID.String(), key)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("get read model row: %w", err)
	}
	var value V
	if err := json.Unmarshal(row.Value, &value); err != nil {
		return zero, false, fmt.Errorf("decode read model value: %w", err)
	}
	return value, true, nil
}

func (s *PostgresTenantStore[V]) Upsert(ctx context.Context, tenantID ids.TenantId, key string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode read model value: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value
	`, s.table)
	_, err = s.db.ExecContext(ctx, query, tenantID.String(), key, data)
	if err != nil {
		return fmt.Errorf("upsert read model row: %w", err)
	}
	return nil
}

func (s *PostgresTenantStore[V]) List(ctx context.Context, tenantID ids.TenantId) (map[string]V, error) {
	type row struct {
		Key   string `db:"key"`
		Value []byte `db:"value"`
	}
	var rows []row
	query := fmt.Sprintf("SELECT key, value FROM %s WHERE tenant_id = $1", s.table)
	if err := s.db.SelectContext(ctx, &rows, query, tenantID.String()); err != nil {
		return nil, fmt.Errorf("list read model rows: %w", err)
	}
	out := make(map[string]V, len(rows))
	for _, r := range rows {
		var value V
		if err := json.Unmarshal(r.Value, &value); err != nil {
			return nil, fmt.Errorf("decode read model value for key %s: %w", r.Key, err)
		}
		out[r.Key] = value
	}
	return out, nil
}

func (s *PostgresTenantStore[V]) ClearTenant(ctx context.Context, tenantID ids.TenantId) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1", s.table)
	_, err := s.db.ExecContext(ctx, query, tenantID.String())
	if err != nil {
		return fmt.Errorf("clear tenant read model rows: %w", err)
	}
	return nil
}
