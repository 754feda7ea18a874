package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/telhawk-systems/webhook-relay/internal/models"
)

// TableSink inserts payloads as rows of a PostgreSQL table, creating the schema and
// table on first use.
type TableSink struct {
	db *sql.DB

	mu      sync.Mutex
	ensured map[string]bool
}

// NewTableSink creates a table sink on db.
func NewTableSink(db *sql.DB) *TableSink {
	return &TableSink{db: db, ensured: make(map[string]bool)}
}

// Deliver inserts payload into dest's table. A second delivery of the same event is a
// no-op.
func (s *TableSink) Deliver(ctx context.Context, dest models.Destination, job *models.Job, payload json.RawMessage) error {
	schema, table := dest.SchemaName(), dest.TableName()
	if !models.ValidIdentifier(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	if !models.ValidIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	if err := s.ensureTable(ctx, schema, table); err != nil {
		return err
	}

	ident := pgx.Identifier{schema, table}.Sanitize()
	query := `INSERT INTO ` + ident + ` (payload, event_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, string(payload), job.EventID); err != nil {
		return fmt.Errorf("failed to insert into %s.%s: %w", schema, table, err)
	}
	return nil
}

func (s *TableSink) ensureTable(ctx context.Context, schema, table string) error {
	key := schema + "." + table

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[key] {
		return nil
	}

	if schema != models.DefaultSchema {
		stmt := `CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize()
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", schema, err)
		}
	}

	stmt := `CREATE TABLE IF NOT EXISTS ` + pgx.Identifier{schema, table}.Sanitize() + ` (
		id BIGSERIAL PRIMARY KEY,
		event_id BIGINT UNIQUE,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", key, err)
	}

	s.ensured[key] = true
	return nil
}
