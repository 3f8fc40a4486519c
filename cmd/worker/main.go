// Command worker consumes chunk preprocess tasks from the Redpanda queue and
// runs the question enrichment pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	ai "github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/ai"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/ai/real"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/blob"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/observability"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/queue/redpanda"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/repo/postgres"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/tts"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/config"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/service/ratelimiter"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/service/sessionlock"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/usecase"
)

// chatClient mirrors the server's provider selection so both processes
// degrade to the deterministic mock together.
func chatClient(cfg config.Config) domain.AIClient {
	if cfg.OpenRouterAPIKey == "" && cfg.OpenRouterAPIKey2 == "" {
		if !cfg.IsDev() {
			slog.Warn("no OpenRouter credentials configured, using mock AI client")
		}
		return ai.NewMockClient()
	}
	return real.New(cfg)
}

func speechClient(cfg config.Config) domain.SpeechClient {
	if cfg.TTSAPIKey == "" {
		if !cfg.IsDev() {
			slog.Warn("no TTS credentials configured, using mock speech client")
		}
		return tts.NewMockClient()
	}
	return tts.New(cfg)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register Prometheus metrics in the worker process and expose them on a
	// dedicated /metrics endpoint so Prometheus can scrape task metrics.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	// Database connection and schema. EnsureSchema is idempotent, so it does
	// not matter whether the server or the worker boots first.
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Repositories
	sessions := postgres.NewSessionRepo(pool)
	questions := postgres.NewQuestionRepo(pool)
	chunks := postgres.NewChunkRepo(pool)

	// Redis: the per-session preprocess lock and the shared provider budgets.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	locker := sessionlock.NewRedisLocker(rdb)

	limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool,
		ratelimiter.DefaultBuckets(cfg.AIRequestsPerMin, cfg.TTSRequestsPerMin))
	if limiter != nil {
		if err := limiter.WarmFromStore(ctx); err != nil {
			slog.Warn("rate limiter warm-up failed", slog.Any("error", err))
		}
	}

	// Provider clients share the cache and budget decorators with the server
	// process; budgets are global because the buckets live in Redis.
	aicl := ai.NewChatCache(
		ai.NewBudgetedClient(chatClient(cfg), limiter, ratelimiter.KeyAIChat),
		cfg.ReferenceCacheSize)
	speech := tts.NewBudgetedSpeech(speechClient(cfg), limiter, ratelimiter.KeyTTSSynthesize)

	blobs, err := blob.NewFSStore(cfg.AudioDir, cfg.AudioBaseURL)
	if err != nil {
		slog.Error("audio store setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	generator := usecase.NewGeneratorService(aicl, cfg.ChatMaxTokens)
	grader := usecase.NewGraderService(aicl, cfg.ChatMaxTokens)
	pre := usecase.NewPreprocessService(sessions, questions, chunks,
		generator, grader, speech, blobs, locker, cfg.PreprocessLockTTL)

	// Queue producer used for retry and DLQ flows within the worker. Its
	// transactional ID is distinct from the HTTP server's producer to avoid
	// transactional conflicts across processes.
	queueProducer, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, "calibr-interview-worker-producer")
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueProducer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	retryManager := redpanda.NewRetryManager(queueProducer, queueProducer, sessions, chunks, cfg.GetRetryConfig())

	// Worker (Redpanda consumer) with dynamic worker pool.
	minWorkers := cfg.ConsumerMaxConcurrency / 2
	if cfg.ConsumerMaxConcurrency <= 1 {
		// Strict single-worker mode for free-tier provider safety.
		minWorkers = 1
	} else if minWorkers < 4 {
		minWorkers = 4
	}
	maxWorkers := cfg.ConsumerMaxConcurrency
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}

	slog.Info("worker scaling configuration",
		slog.Int("min_workers", minWorkers),
		slog.Int("max_workers", maxWorkers),
		slog.Duration("scaling_interval", cfg.WorkerScalingInterval),
		slog.Duration("idle_timeout", cfg.WorkerIdleTimeout))

	worker, err := redpanda.NewConsumerWithConfig(
		cfg.KafkaBrokers,
		"calibr-interview-workers",
		"calibr-interview-consumer",
		pre,
		minWorkers,
		maxWorkers,
	)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	// Route upstream rate-limit and timeout failures through the retry/DLQ
	// flow instead of dropping the chunk.
	worker.WithRetryManager(retryManager)
	defer func() {
		if err := worker.Close(); err != nil {
			slog.Error("failed to close worker", slog.Any("error", err))
		}
	}()

	// DLQ consumer requeues parked tasks after their cooling window.
	dlqConsumer, err := redpanda.NewDLQConsumer(cfg.KafkaBrokers, "calibr-interview-dlq-workers", retryManager)
	if err != nil {
		slog.Error("DLQ consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer dlqConsumer.Stop()
	if err := dlqConsumer.Start(ctx); err != nil {
		slog.Error("DLQ consumer start error", slog.Any("error", err))
	}

	slog.Info("starting redpanda consumer")
	go func() {
		if err := worker.Start(ctx); err != nil {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	slog.Info("worker stopped")
}
