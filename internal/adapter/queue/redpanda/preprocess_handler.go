package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/observability"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// ChunkPreprocessor runs the enrichment pipeline for one requested chunk.
// usecase.PreprocessService is the production implementation.
type ChunkPreprocessor interface {
	HandleChunk(ctx context.Context, sessionID string, chunk int) error
}

// preprocessTimeout bounds one task run. Chunk commits are idempotent, so a
// task cut off here is redone safely on the next enqueue.
const preprocessTimeout = 5 * time.Minute

// HandlePreprocess runs one preprocess task against the enrichment pipeline
// and records task metrics.
func HandlePreprocess(ctx context.Context, pre ChunkPreprocessor, payload domain.PreprocessTaskPayload) error {
	tracer := otel.Tracer("queue.handler")
	ctx, span := tracer.Start(ctx, "HandlePreprocessChunk")
	defer span.End()

	if pre == nil {
		return fmt.Errorf("chunk preprocessor is nil")
	}

	taskCtx, cancel := context.WithTimeout(ctx, preprocessTimeout)
	defer cancel()

	observability.StartProcessingJob("preprocess")
	if err := pre.HandleChunk(taskCtx, payload.SessionID, payload.ChunkNumber); err != nil {
		code := classifyFailureCode(err.Error())
		observability.FailJob("preprocess")
		observability.RecordJobFailureByCode("preprocess", code)
		slog.Error("preprocess task failed",
			slog.String("session_id", payload.SessionID),
			slog.Int("chunk", payload.ChunkNumber),
			slog.String("failure_code", code),
			slog.Any("error", err))
		return fmt.Errorf("preprocess chunk: %w", err)
	}

	observability.CompleteJob("preprocess")
	observability.ChunksPreprocessedTotal.Inc()
	slog.Info("preprocess task completed",
		slog.String("session_id", payload.SessionID),
		slog.Int("chunk", payload.ChunkNumber))
	return nil
}
