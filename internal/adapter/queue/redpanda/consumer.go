package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/observability"
)

// reconnectFailureThreshold is the poll failure streak after which the
// consumer rebuilds its broker session.
const reconnectFailureThreshold = 5

// Consumer reads preprocess tasks with exactly-once semantics and hands them
// to a dynamically sized worker pool.
type Consumer struct {
	session *kgo.GroupTransactSession
	pre     ChunkPreprocessor

	// retryManager, when set, routes retryable upstream failures through
	// the retry/DLQ flow instead of dropping them.
	retryManager *RetryManager

	groupID string
	topic   string

	minWorkers    int
	maxWorkers    int
	activeWorkers int
	workerMu      sync.RWMutex
	taskQueue     chan *kgo.Record

	poller   *AdaptivePoller
	shutdown chan struct{}

	// Kept for session rebuilds after persistent poll failures.
	brokers         []string
	transactionalID string
}

// NewConsumer constructs a Consumer with exactly-once semantics.
func NewConsumer(brokers []string, groupID string, pre ChunkPreprocessor) (*Consumer, error) {
	return NewConsumerWithTransactionalID(brokers, groupID, "calibr-interview-consumer", pre)
}

// NewConsumerWithTransactionalID constructs a Consumer with a custom
// transactional ID so tests can run several consumers against one broker.
func NewConsumerWithTransactionalID(brokers []string, groupID, transactionalID string, pre ChunkPreprocessor) (*Consumer, error) {
	return NewConsumerWithConfig(brokers, groupID, transactionalID, pre, 2, 10)
}

// NewConsumerWithConfig constructs a Consumer with custom worker bounds.
func NewConsumerWithConfig(brokers []string, groupID, transactionalID string, pre ChunkPreprocessor, minWorkers, maxWorkers int) (*Consumer, error) {
	return NewConsumerWithTopic(brokers, groupID, transactionalID, pre, minWorkers, maxWorkers, TopicPreprocess)
}

// NewConsumerWithTopic constructs a Consumer on a specific topic. Tests use
// unique topics for isolation.
func NewConsumerWithTopic(brokers []string, groupID, transactionalID string, pre ChunkPreprocessor, minWorkers, maxWorkers int, topic string) (*Consumer, error) {
	slog.Info("creating redpanda consumer",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("transactional_id", transactionalID),
		slog.String("topic", topic))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}

	ctx := context.Background()
	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("temp client: %w", err)
	}
	defer tempClient.Close()

	if err := createTopicIfNotExists(ctx, tempClient, topic, 1, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", topic),
			slog.Any("error", err))
	}

	session, err := newTransactSession(brokers, groupID, transactionalID, topic)
	if err != nil {
		slog.Error("failed to create redpanda transactional session",
			slog.Any("error", err),
			slog.String("group_id", groupID),
			slog.String("topic", topic))
		return nil, fmt.Errorf("redpanda transactional session: %w", err)
	}

	slog.Info("redpanda consumer created",
		slog.Int("min_workers", minWorkers),
		slog.Int("max_workers", maxWorkers))
	return &Consumer{
		session:         session,
		pre:             pre,
		groupID:         groupID,
		topic:           topic,
		minWorkers:      minWorkers,
		maxWorkers:      maxWorkers,
		activeWorkers:   minWorkers,
		taskQueue:       make(chan *kgo.Record, maxWorkers*2),
		shutdown:        make(chan struct{}),
		brokers:         brokers,
		transactionalID: transactionalID,
		poller:          NewAdaptivePoller(100 * time.Millisecond),
	}, nil
}

// newTransactSession builds the group transact session with read-committed
// isolation and OpenTelemetry instrumentation on every record.
func newTransactSession(brokers []string, groupID, transactionalID, topic string) (*kgo.GroupTransactSession, error) {
	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.RequireStableFetchOffsets(),

		kgo.WithHooks(kotelService.Hooks()...),

		kgo.DialTimeout(10 * time.Second),
		kgo.RequestTimeoutOverhead(5 * time.Second),
		kgo.RetryTimeout(30 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),

		// An idle poll returns after FetchMaxWait, so shutdown is never
		// blocked longer than this.
		kgo.FetchMaxBytes(10 * 1024 * 1024),
		kgo.FetchMaxWait(5 * time.Second),
		kgo.FetchMinBytes(512),
		kgo.FetchMaxPartitionBytes(2 * 1024 * 1024),

		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(1 * time.Second),
	}

	return kgo.NewGroupTransactSession(opts...)
}

// Start begins consuming. It blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting redpanda consumer",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("min_workers", c.minWorkers),
		slog.Int("max_workers", c.maxWorkers))

	c.startWorkerPool(ctx)
	go c.messageFetcher(ctx)
	go c.workerPoolManager(ctx)

	<-ctx.Done()
	slog.Info("redpanda consumer shutting down")
	close(c.shutdown)
	return ctx.Err()
}

func (c *Consumer) startWorkerPool(ctx context.Context) {
	for i := 0; i < c.minWorkers; i++ {
		go c.worker(ctx, i)
	}
	slog.Info("started initial worker pool", slog.Int("workers", c.minWorkers))
}

// workerPoolManager rechecks queue depth periodically and scales workers.
func (c *Consumer) workerPoolManager(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.scaleWorkers(ctx)
		}
	}
}

// scaleWorkers grows the pool while tasks queue up and shrinks it back to
// minWorkers when the queue drains. Workers notice the reduced target after
// finishing their current task and exit on their own.
func (c *Consumer) scaleWorkers(ctx context.Context) {
	queueLen := len(c.taskQueue)
	activeWorkers := c.getActiveWorkers()

	if queueLen > 0 && activeWorkers < c.maxWorkers {
		workersToAdd := min(queueLen, c.maxWorkers-activeWorkers)
		for i := 0; i < workersToAdd; i++ {
			if c.getActiveWorkers() < c.maxWorkers {
				c.incrementActiveWorkers()
				go c.worker(ctx, c.getActiveWorkers())
			}
		}
		if workersToAdd > 0 {
			slog.Info("scaled up workers",
				slog.Int("added", workersToAdd),
				slog.Int("queue_length", queueLen),
				slog.Int("total_active", c.getActiveWorkers()))
		}
	}

	if activeWorkers > c.minWorkers && (queueLen == 0 || activeWorkers > queueLen) {
		workersToRemove := activeWorkers - c.minWorkers
		if queueLen > 0 && activeWorkers > queueLen {
			workersToRemove = min(workersToRemove, activeWorkers-queueLen)
		}
		for i := 0; i < workersToRemove; i++ {
			if c.getActiveWorkers() > c.minWorkers {
				c.decrementActiveWorkers()
			}
		}
		if workersToRemove > 0 {
			slog.Info("scaled down workers",
				slog.Int("removed", workersToRemove),
				slog.Int("queue_length", queueLen),
				slog.Int("total_active", c.getActiveWorkers()))
		}
	}
}

// messageFetcher polls the broker and queues records for the worker pool.
func (c *Consumer) messageFetcher(ctx context.Context) {
	slog.Info("message fetcher started",
		slog.String("topic", c.topic),
		slog.String("group_id", c.groupID))

	for {
		select {
		case <-ctx.Done():
			slog.Info("message fetcher shutting down")
			return
		case <-c.shutdown:
			slog.Info("message fetcher shutting down")
			return
		default:
			interval := c.poller.GetNextInterval()
			fetches := c.session.PollFetches(ctx)

			if errs := fetches.Errors(); len(errs) > 0 {
				if c.handleFetchErrors(ctx, errs, interval) {
					return
				}
				continue
			}

			if fetches.NumRecords() == 0 {
				c.poller.RecordSuccess()
				time.Sleep(interval)
				continue
			}

			c.poller.RecordSuccess()

			fetches.EachRecord(func(record *kgo.Record) {
				select {
				case c.taskQueue <- record:
					slog.Debug("queued task for processing",
						slog.Int64("offset", record.Offset),
						slog.Int("partition", int(record.Partition)),
						slog.Int("queue_length", len(c.taskQueue)))
				default:
					// Queue full: process off-pool so the fetcher is not
					// blocked behind slow enrichment.
					slog.Warn("task queue full, processing outside pool",
						slog.Int64("offset", record.Offset),
						slog.Int("partition", int(record.Partition)))
					go func(rec *kgo.Record) { _ = c.processRecord(ctx, rec) }(record)
				}
			})
		}
	}
}

// handleFetchErrors logs poll errors, records the failure, and backs off.
// It reports true when the fetcher should stop.
func (c *Consumer) handleFetchErrors(ctx context.Context, errs []kgo.FetchError, interval time.Duration) bool {
	for _, err := range errs {
		slog.Error("fetch error",
			slog.String("topic", err.Topic),
			slog.Int("partition", int(err.Partition)),
			slog.Any("error", err.Err))
		if err.Err != nil && strings.Contains(err.Err.Error(), "context canceled") {
			slog.Info("fetcher context canceled, stopping")
			return true
		}
	}

	c.poller.RecordFailure()

	if c.poller.ConsecutiveFailures() >= reconnectFailureThreshold {
		if rErr := c.reconnect(); rErr != nil {
			slog.Error("session rebuild failed", slog.Any("error", rErr))
		} else {
			c.poller.Reset()
			return false
		}
	}

	select {
	case <-ctx.Done():
		return true
	case <-time.After(interval):
		return false
	}
}

// reconnect rebuilds the broker session with the original configuration.
func (c *Consumer) reconnect() error {
	slog.Info("rebuilding redpanda session",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic))

	if c.session != nil {
		c.session.Close()
	}

	session, err := newTransactSession(c.brokers, c.groupID, c.transactionalID, c.topic)
	if err != nil {
		return fmt.Errorf("rebuild session: %w", err)
	}

	c.session = session
	slog.Info("redpanda session rebuilt")
	return nil
}

// worker drains the task queue until shutdown, exiting early when the pool
// manager lowered the worker target below the current count.
func (c *Consumer) worker(ctx context.Context, workerID int) {
	slog.Debug("worker started", slog.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case record := <-c.taskQueue:
			if record == nil {
				return
			}

			if err := c.processRecord(ctx, record); err != nil {
				slog.Error("failed to process record",
					slog.Int("worker_id", workerID),
					slog.Int64("offset", record.Offset),
					slog.Int("partition", int(record.Partition)),
					slog.Any("error", err))
			}

			activeWorkers := c.getActiveWorkers()
			queueLen := len(c.taskQueue)
			if activeWorkers > c.minWorkers && (queueLen == 0 || activeWorkers > queueLen) {
				slog.Debug("worker exiting due to excess capacity",
					slog.Int("worker_id", workerID),
					slog.Int("active_workers", activeWorkers),
					slog.Int("queue_length", queueLen))
				return
			}
		}
	}
}

func (c *Consumer) getActiveWorkers() int {
	c.workerMu.RLock()
	defer c.workerMu.RUnlock()
	return c.activeWorkers
}

func (c *Consumer) incrementActiveWorkers() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	c.activeWorkers++
}

func (c *Consumer) decrementActiveWorkers() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.activeWorkers > 0 {
		c.activeWorkers--
	}
}

// processRecord decodes one task record and runs the preprocess handler.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessPreprocessTask")
	defer span.End()

	var payload domain.PreprocessTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		slog.Error("failed to unmarshal task payload",
			slog.Int64("offset", record.Offset),
			slog.Int("value_length", len(record.Value)),
			slog.Any("error", err))
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	// Attach request-scoped metadata so downstream logs, AI and TTS client
	// calls included, stay correlated with the originating request.
	if payload.RequestID != "" {
		ctx = observability.ContextWithRequestID(ctx, payload.RequestID)
	}
	ctx = observability.ContextWithSessionID(ctx, payload.SessionID)
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("session_id", payload.SessionID),
		slog.Int("chunk", payload.ChunkNumber),
	)
	if payload.RequestID != "" {
		lg = lg.With(slog.String("request_id", payload.RequestID))
	}
	ctx = observability.ContextWithLogger(ctx, lg)

	lg.Info("processing preprocess task")

	if err := HandlePreprocess(ctx, c.pre, payload); err != nil {
		lg.Error("preprocess task failed", slog.Any("error", err))

		// Route retryable upstream failures (rate limits, timeouts) through
		// the retry/DLQ flow. Everything else is dropped here: the next
		// presentation poll re-enqueues unready chunks.
		if c.retryManager != nil {
			code := classifyFailureCode(err.Error())
			if code == "UPSTREAM_RATE_LIMIT" || code == "UPSTREAM_TIMEOUT" {
				retryInfo := &domain.RetryInfo{
					AttemptCount:  0,
					LastAttemptAt: time.Now(),
					RetryStatus:   domain.RetryStatusNone,
					LastError:     err.Error(),
					ErrorHistory:  []string{err.Error()},
					CreatedAt:     time.Now(),
					UpdatedAt:     time.Now(),
				}
				if rErr := c.retryManager.RetryTask(ctx, payload, retryInfo); rErr != nil {
					lg.Error("retry manager failed to handle task failure",
						slog.String("failure_code", code),
						slog.Any("error", rErr))
				} else {
					lg.Info("retry manager scheduled retry or parked task in DLQ",
						slog.String("failure_code", code))
				}
			}
		}
		return err
	}

	// Marked records are what the auto commit ticker advances the group
	// offset through. Failed records stay unmarked and are redelivered
	// after a restart.
	if c.session != nil {
		c.session.Client().MarkCommitRecords(record)
	}

	lg.Info("preprocess task done")
	return nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	if c.shutdown != nil {
		select {
		case <-c.shutdown:
		default:
			close(c.shutdown)
		}
	}
	if c.taskQueue != nil {
		select {
		case <-c.taskQueue:
		default:
			close(c.taskQueue)
		}
	}
	return nil
}

// IsHealthy reports whether recent polls have been succeeding.
func (c *Consumer) IsHealthy() bool {
	if c.poller == nil {
		return false
	}
	return c.poller.IsHealthy()
}

// GetHealthStatus returns consumer health details for diagnostics.
func (c *Consumer) GetHealthStatus() map[string]interface{} {
	status := map[string]interface{}{
		"consumer_type":  "redpanda",
		"group_id":       c.groupID,
		"topic":          c.topic,
		"active_workers": c.getActiveWorkers(),
		"min_workers":    c.minWorkers,
		"max_workers":    c.maxWorkers,
	}
	if c.poller != nil {
		status["poller"] = c.poller.GetStats()
	}
	return status
}

// WithRetryManager attaches a RetryManager for the retry/DLQ flow. When nil,
// failed tasks simply surface their error.
func (c *Consumer) WithRetryManager(rm *RetryManager) *Consumer {
	c.retryManager = rm
	return c
}
