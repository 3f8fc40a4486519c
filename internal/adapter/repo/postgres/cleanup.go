package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// Tx is the narrow transaction surface the cleanup service needs.
type Tx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner opens transactions for cleanup runs.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// PoolBeginner adapts *pgxpool.Pool to the Beginner interface.
type PoolBeginner struct{ Pool *pgxpool.Pool }

// Begin opens a transaction on the underlying pool.
func (b PoolBeginner) Begin(ctx context.Context) (Tx, error) { return b.Pool.Begin(ctx) }

// CleanupService handles data retention and cleanup
type CleanupService struct {
	DB            Beginner
	Blobs         domain.BlobStore
	RetentionDays int
}

// NewCleanupService creates a new cleanup service. Blobs may be nil; audio
// removal is then left to the interview finish path alone.
func NewCleanupService(db Beginner, blobs domain.BlobStore, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{DB: db, Blobs: blobs, RetentionDays: retentionDays}
}

// CleanupOldData removes data older than retention period. Queue snapshots,
// question rows and chunk marks cascade from sessions via foreign keys.
// Only completed sessions are touched; the deadline sweeper finishes stale
// active sessions before retention ever sees them. Audio blobs are dropped
// again per deleted session, catching any that survived a failed cleanup
// at finish time.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedSessions []string
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM sessions
			WHERE status = $1 AND completed_at < $2
			RETURNING id
		)
		SELECT coalesce(array_agg(id), '{}') FROM deleted
	`, domain.SessionCompleted, cutoff).Scan(&deletedSessions)
	if err != nil {
		slog.Debug("no sessions to delete", slog.Any("error", err))
	}

	var deletedBuckets int64
	err = tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM rate_limit_buckets
			WHERE last_refill < $1
			RETURNING 1
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedBuckets)
	if err != nil {
		slog.Debug("no rate limit buckets to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	if s.Blobs != nil {
		for _, id := range deletedSessions {
			if err := s.Blobs.DeleteByPrefix(ctx, id+"/"); err != nil {
				slog.Warn("retention audio cleanup failed",
					slog.String("session_id", id),
					slog.Any("error", err))
			}
		}
	}

	slog.Info("data cleanup completed",
		slog.Int("deleted_sessions", len(deletedSessions)),
		slog.Int64("deleted_buckets", deletedBuckets),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup job
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial cleanup
	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
