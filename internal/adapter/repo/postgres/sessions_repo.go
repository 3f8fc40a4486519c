// Package postgres provides PostgreSQL database adapters.
//
// It implements the repository ports for interview sessions, their
// question rows and preprocessing bookkeeping. The package provides
// type-safe database operations with connection pooling and
// transaction support.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// SessionRepo persists and loads interview sessions using a minimal pgx pool.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

const sessionColumns = `id, status, job_context, resume_context, chunk_size, deadline, created_at, updated_at, completed_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	var jobRaw, resumeRaw []byte
	if err := row.Scan(&s.ID, &s.Status, &jobRaw, &resumeRaw, &s.ChunkSize, &s.Deadline, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt); err != nil {
		return domain.Session{}, err
	}
	if err := json.Unmarshal(jobRaw, &s.Job); err != nil {
		return domain.Session{}, err
	}
	if err := json.Unmarshal(resumeRaw, &s.Resume); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// Create stores a new session and returns its id (generates one if empty).
func (r *SessionRepo) Create(ctx domain.Context, s domain.Session) (string, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "sessions"),
	)
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := s.Status
	if status == "" {
		status = domain.SessionActive
	}
	jobRaw, err := json.Marshal(s.Job)
	if err != nil {
		return "", fmt.Errorf("op=session.create: %w", err)
	}
	resumeRaw, err := json.Marshal(s.Resume)
	if err != nil {
		return "", fmt.Errorf("op=session.create: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO sessions (id, status, job_context, resume_context, chunk_size, deadline, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.Pool.Exec(ctx, q, id, status, jobRaw, resumeRaw, s.ChunkSize, s.Deadline, now, now)
	if err != nil {
		return "", fmt.Errorf("op=session.create: %w", err)
	}
	return id, nil
}

// Get loads a session by id.
func (r *SessionRepo) Get(ctx domain.Context, id string) (domain.Session, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "sessions"),
	)
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id=$1`
	s, err := scanSession(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Session{}, fmt.Errorf("op=session.get: %w", domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("op=session.get: %w", err)
	}
	return s, nil
}

// MarkComplete transitions a session to the completed status.
func (r *SessionRepo) MarkComplete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.MarkComplete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "sessions"),
	)
	q := `UPDATE sessions SET status=$2, completed_at=$3, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, domain.SessionCompleted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=session.mark_complete: %w", err)
	}
	return nil
}

// ListExpired returns active sessions whose deadline passed before cutoff.
func (r *SessionRepo) ListExpired(ctx domain.Context, cutoff time.Time, limit int) ([]domain.Session, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.ListExpired")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "sessions"),
	)
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE status=$1 AND deadline < $2 ORDER BY deadline ASC LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, domain.SessionActive, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=session.list_expired: %w", err)
	}
	defer rows.Close()
	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("op=session.list_expired_scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=session.list_expired_rows: %w", err)
	}
	return out, nil
}

// SaveQueueState stores the serialized queue snapshot for a session.
func (r *SessionRepo) SaveQueueState(ctx domain.Context, sessionID string, st domain.QueueState) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.SaveQueueState")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "queue_states"),
	)
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("op=session.save_queue_state: %w", err)
	}
	q := `INSERT INTO queue_states (session_id, state, updated_at) VALUES ($1,$2,$3)
	ON CONFLICT (session_id)
	DO UPDATE SET state=EXCLUDED.state, updated_at=EXCLUDED.updated_at`
	_, err = r.Pool.Exec(ctx, q, sessionID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=session.save_queue_state: %w", err)
	}
	return nil
}

// LoadQueueState loads the queue snapshot for a session.
func (r *SessionRepo) LoadQueueState(ctx domain.Context, sessionID string) (domain.QueueState, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.LoadQueueState")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "queue_states"),
	)
	q := `SELECT state FROM queue_states WHERE session_id=$1`
	var raw []byte
	if err := r.Pool.QueryRow(ctx, q, sessionID).Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return domain.QueueState{}, fmt.Errorf("op=session.load_queue_state: %w", domain.ErrNotFound)
		}
		return domain.QueueState{}, fmt.Errorf("op=session.load_queue_state: %w", err)
	}
	var st domain.QueueState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.QueueState{}, fmt.Errorf("op=session.load_queue_state: %w", err)
	}
	return st, nil
}
