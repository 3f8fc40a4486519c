package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// sessionExpirer finishes overdue interview sessions in batches and reports
// how many it completed.
type sessionExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// SessionSweeper periodically completes sessions whose interview deadline
// passed without the candidate calling finish. A swept session scores its
// unanswered asked questions as zero, same as an explicit finish.
type SessionSweeper struct {
	interviews sessionExpirer
	interval   time.Duration
	batchSize  int
}

func NewSessionSweeper(interviews sessionExpirer, interval time.Duration, batchSize int) *SessionSweeper {
	if interviews == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SessionSweeper{
		interviews: interviews,
		interval:   interval,
		batchSize:  batchSize,
	}
}

func (s *SessionSweeper) Run(ctx context.Context) {
	if s == nil || s.interviews == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *SessionSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("sessions.sweeper")
	ctx, span := tracer.Start(ctx, "SessionSweeper.sweepOnce")
	defer span.End()

	span.SetAttributes(attribute.Int("sessions.batch_size", s.batchSize))

	totalExpired := 0
	// Full batches mean more overdue sessions may remain; keep draining
	// within this tick instead of waiting a whole interval per batch.
	for {
		expired, err := s.interviews.ExpireStale(ctx, s.batchSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("session sweep failed", slog.Any("error", err))
			return
		}
		totalExpired += expired
		if expired < s.batchSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("sessions.total_expired", totalExpired))
	if totalExpired > 0 {
		slog.Info("session sweep completed overdue sessions", slog.Int("count", totalExpired))
	}
}
