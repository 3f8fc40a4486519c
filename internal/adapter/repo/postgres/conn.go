package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a pgx connection pool from the provided DSN and returns it.
// The pool is configured with sane defaults for this application and traces
// every query through OpenTelemetry.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Schema holds the DDL for every table this service owns. Each statement is
// idempotent so EnsureSchema may run on every boot.
//
// Position values in session_questions may contain holes after a splice is
// retried; readers order by position and never rely on contiguity.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	job_context JSONB NOT NULL,
	resume_context JSONB NOT NULL,
	chunk_size INTEGER NOT NULL DEFAULT 5,
	deadline TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sessions_status_deadline ON sessions (status, deadline);

CREATE TABLE IF NOT EXISTS queue_states (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	state JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS session_questions (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	position INTEGER NOT NULL,
	text TEXT NOT NULL,
	category TEXT NOT NULL,
	difficulty TEXT NOT NULL DEFAULT '',
	reference_answer TEXT NOT NULL DEFAULT '',
	source_urls JSONB NOT NULL DEFAULT '[]',
	audio_url TEXT NOT NULL DEFAULT '',
	topic_id TEXT NOT NULL DEFAULT '',
	parent_question_id TEXT NOT NULL DEFAULT '',
	queue_type TEXT NOT NULL DEFAULT 'Q1',
	user_answer TEXT NOT NULL DEFAULT '',
	correctness INTEGER,
	asked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, id)
);
CREATE INDEX IF NOT EXISTS idx_session_questions_position ON session_questions (session_id, position);

CREATE TABLE IF NOT EXISTS preprocessed_chunks (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	chunk_number INTEGER NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, chunk_number)
);

CREATE TABLE IF NOT EXISTS rate_limit_buckets (
	bucket_key TEXT PRIMARY KEY,
	capacity BIGINT NOT NULL,
	refill_rate DOUBLE PRECISION NOT NULL,
	tokens DOUBLE PRECISION NOT NULL,
	last_refill TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema applies the embedded schema. Safe to call on every startup.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("op=schema.ensure: %w", err)
	}
	return nil
}
