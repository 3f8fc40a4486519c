package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// ChunkRepo records which preprocessing chunks have been committed.
type ChunkRepo struct{ Pool PgxPool }

// NewChunkRepo constructs a ChunkRepo with the given pool.
func NewChunkRepo(p PgxPool) *ChunkRepo { return &ChunkRepo{Pool: p} }

// MarkPreprocessed commits a chunk. Duplicate commits are absorbed so a
// retried preprocessing run stays idempotent.
func (r *ChunkRepo) MarkPreprocessed(ctx domain.Context, sessionID string, chunk int) error {
	if chunk < 0 {
		return fmt.Errorf("op=chunk.mark_preprocessed: %w", domain.ErrInvalidArgument)
	}
	tracer := otel.Tracer("repo.chunks")
	ctx, span := tracer.Start(ctx, "chunks.MarkPreprocessed")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "preprocessed_chunks"),
	)
	q := `INSERT INTO preprocessed_chunks (session_id, chunk_number, completed_at) VALUES ($1,$2,$3)
	ON CONFLICT (session_id, chunk_number) DO NOTHING`
	_, err := r.Pool.Exec(ctx, q, sessionID, chunk, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=chunk.mark_preprocessed: %w", err)
	}
	return nil
}

// PreprocessedSet returns the committed chunk numbers for a session.
func (r *ChunkRepo) PreprocessedSet(ctx domain.Context, sessionID string) (map[int]bool, error) {
	tracer := otel.Tracer("repo.chunks")
	ctx, span := tracer.Start(ctx, "chunks.PreprocessedSet")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "preprocessed_chunks"),
	)
	q := `SELECT chunk_number FROM preprocessed_chunks WHERE session_id=$1`
	rows, err := r.Pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=chunk.preprocessed_set: %w", err)
	}
	defer rows.Close()
	set := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("op=chunk.preprocessed_set_scan: %w", err)
		}
		set[n] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=chunk.preprocessed_set_rows: %w", err)
	}
	return set, nil
}
