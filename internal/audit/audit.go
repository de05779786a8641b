// Package audit implements the Postgres-backed audit sink: an
// append-only log of completed evaluations for observability, distinct
// from the dispatch core's result cache. Grounded in the teacher's pgx
// usage pattern, simplified to a single-writer append sink — there is no
// need for the teacher's multi-backend db.Database abstraction
// (internal/db/db.go) since this sink has exactly one driver and one
// query shape (see DESIGN.md).
package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/probed/probed/internal/dispatch"
)

// Sink writes EvalRecords to a Postgres table via a pgx connection pool.
// It satisfies dispatch.AuditSink.
type Sink struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and ensures the audit table exists.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}

	return &Sink{pool: pool}, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS probed_evaluations (
	id          BIGSERIAL PRIMARY KEY,
	oid         TEXT NOT NULL,
	rid         BIGINT NOT NULL,
	outcome     TEXT NOT NULL,
	error_code  TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL
)`

const insertSQL = `
INSERT INTO probed_evaluations (oid, rid, outcome, error_code, duration_ms, started_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Record implements dispatch.AuditSink.
func (s *Sink) Record(ctx context.Context, rec dispatch.EvalRecord) error {
	_, err := s.pool.Exec(ctx, insertSQL,
		string(rec.OID), int64(rec.RID), rec.Outcome, string(rec.ErrorCode), rec.DurationMs, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}
