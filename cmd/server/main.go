// Command server starts the Calibr interview API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	ai "github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/ai"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/ai/real"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/blob"
	httpserver "github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/httpserver"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/observability"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/queue/redpanda"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/repo/postgres"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/tts"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/app"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/config"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/service/ratelimiter"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/usecase"
)

// chatClient picks the real OpenRouter client when credentials are present
// and the deterministic mock otherwise, so dev boots without secrets.
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
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, answer, chunk wait, and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool and schema
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
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

	// Redis: provider call budgets and readiness.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	// Queue client (Redpanda producer)
	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()

	// Provider budgets live in Redis and mirror to Postgres so limits
	// survive a Redis restart.
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool,
		ratelimiter.DefaultBuckets(cfg.AIRequestsPerMin, cfg.TTSRequestsPerMin))
	if limiter != nil {
		if err := limiter.WarmFromStore(ctx); err != nil {
			slog.Warn("rate limiter warm-up failed", slog.Any("error", err))
		}
	}

	// AI client: budget checks run on cache misses only, so replayed
	// reference prompts never burn quota.
	aicl := ai.NewChatCache(
		ai.NewBudgetedClient(chatClient(cfg), limiter, ratelimiter.KeyAIChat),
		cfg.ReferenceCacheSize)
	speech := tts.NewBudgetedSpeech(speechClient(cfg), limiter, ratelimiter.KeyTTSSynthesize)

	blobs, err := blob.NewFSStore(cfg.AudioDir, cfg.AudioBaseURL)
	if err != nil {
		slog.Error("audio store setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Usecases
	generator := usecase.NewGeneratorService(aicl, cfg.ChatMaxTokens)
	grader := usecase.NewGraderService(aicl, cfg.ChatMaxTokens)
	interviews := usecase.NewInterviewService(sessions, questions, chunks, producer,
		generator, grader, speech, blobs,
		usecase.InterviewOptions{
			ChunkSize:         cfg.ChunkSize,
			ChunkWaitAttempts: cfg.ChunkWaitAttempts,
			ChunkWaitInterval: cfg.ChunkWaitInterval,
			Duration:          cfg.InterviewDuration,
		})

	// Background maintenance
	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(postgres.PoolBeginner{Pool: pool}, blobs, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}
	if sweeper := app.NewSessionSweeper(interviews, cfg.SessionSweepInterval, 100); sweeper != nil {
		go sweeper.Run(ctx)
		slog.Info("session sweeper started", slog.Duration("interval", cfg.SessionSweepInterval))
	}

	// Optional dev fixture
	if cfg.IsDev() && cfg.SeedFile != "" {
		go func() {
			seedCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
			defer cancel()
			if err := seedDemoInterview(seedCtx, interviews, cfg.SeedFile); err != nil {
				slog.Warn("demo seed failed", slog.Any("error", err))
			}
		}()
	}

	// Readiness checks
	dbCheck, redisCheck, queueCheck := app.BuildReadinessChecks(pool, app.WrapRedis(rdb), producer)

	// HTTP server
	srv := httpserver.NewServer(cfg, interviews, dbCheck, redisCheck, queueCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
