package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// dlqCooldown is how long a task parked for an upstream rate limit or
// timeout must rest in the DLQ before it may be requeued.
const dlqCooldown = 30 * time.Second

// taskProducer is the slice of the producer the retry manager needs. The
// real Producer satisfies it; tests substitute fakes.
type taskProducer interface {
	EnqueuePreprocess(ctx domain.Context, payload domain.PreprocessTaskPayload) (string, error)
	EnqueueDLQ(ctx domain.Context, taskKey string, dlqData []byte) error
}

// RetryManager handles automatic retries and DLQ management for preprocess
// tasks.
type RetryManager struct {
	producer    taskProducer
	dlqProducer taskProducer
	sessions    domain.SessionRepository
	chunks      domain.ChunkRepository
	config      domain.RetryConfig
}

// NewRetryManager creates a new retry manager.
func NewRetryManager(producer, dlqProducer taskProducer, sessions domain.SessionRepository, chunks domain.ChunkRepository, config domain.RetryConfig) *RetryManager {
	return &RetryManager{
		producer:    producer,
		dlqProducer: dlqProducer,
		sessions:    sessions,
		chunks:      chunks,
		config:      config,
	}
}

// RetryTask decides what happens to a failed preprocess task: an inline
// delayed retry, or a move to the DLQ. Upstream rate limits and timeouts
// always go to the DLQ; the DLQ consumer requeues them once the cooling
// window lapses.
func (rm *RetryManager) RetryTask(ctx domain.Context, payload domain.PreprocessTaskPayload, retryInfo *domain.RetryInfo) error {
	code := classifyFailureCode(retryInfo.LastError)
	if code == "UPSTREAM_RATE_LIMIT" || code == "UPSTREAM_TIMEOUT" {
		slog.Info("routing upstream failure to DLQ for cooldown",
			slog.String("task_key", TaskKey(payload)),
			slog.String("failure_code", code),
			slog.String("last_error", retryInfo.LastError))
		return rm.moveToDLQ(ctx, payload, retryInfo, retryInfo.LastError)
	}

	if !retryInfo.ShouldRetry(fmt.Errorf("%s", retryInfo.LastError), rm.config) {
		slog.Info("task should not be retried, moving to DLQ",
			slog.String("task_key", TaskKey(payload)),
			slog.String("last_error", retryInfo.LastError),
			slog.String("retry_status", string(retryInfo.RetryStatus)))
		return rm.moveToDLQ(ctx, payload, retryInfo, "task should not be retried")
	}

	if retryInfo.AttemptCount >= rm.config.MaxRetries {
		slog.Info("max retries reached, moving to DLQ",
			slog.String("task_key", TaskKey(payload)),
			slog.Int("attempt_count", retryInfo.AttemptCount),
			slog.Int("max_retries", rm.config.MaxRetries))
		return rm.moveToDLQ(ctx, payload, retryInfo, "max retries reached")
	}

	delay := retryInfo.CalculateNextRetryDelay(rm.config)
	retryInfo.NextRetryAt = time.Now().Add(delay)
	retryInfo.MarkAsRetrying()
	retryInfo.UpdateRetryAttempt(nil)

	go rm.scheduleRetry(payload, retryInfo, delay)

	slog.Info("task scheduled for retry",
		slog.String("task_key", TaskKey(payload)),
		slog.Int("attempt", retryInfo.AttemptCount),
		slog.Duration("delay", delay),
		slog.Time("next_retry_at", retryInfo.NextRetryAt))
	return nil
}

// scheduleRetry re-enqueues the task after the backoff delay. It runs on a
// background context, so a pending retry survives the poll cycle that
// spawned it.
func (rm *RetryManager) scheduleRetry(payload domain.PreprocessTaskPayload, retryInfo *domain.RetryInfo, delay time.Duration) {
	time.Sleep(delay)

	ctx := context.Background()
	if rm.taskObsolete(ctx, payload) {
		slog.Info("skipping retry for obsolete task",
			slog.String("task_key", TaskKey(payload)))
		return
	}

	if _, err := rm.producer.EnqueuePreprocess(ctx, payload); err != nil {
		slog.Error("failed to enqueue task for retry",
			slog.String("task_key", TaskKey(payload)),
			slog.Any("error", err))
		retryInfo.MarkAsExhausted()
		return
	}

	slog.Info("task enqueued for retry",
		slog.String("task_key", TaskKey(payload)),
		slog.Int("attempt", retryInfo.AttemptCount))
}

// taskObsolete reports whether re-running the task would be wasted work:
// the session is gone or completed, or the chunk is already preprocessed.
func (rm *RetryManager) taskObsolete(ctx domain.Context, payload domain.PreprocessTaskPayload) bool {
	if rm.sessions == nil {
		return false
	}

	sess, err := rm.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		return errors.Is(err, domain.ErrNotFound)
	}
	if sess.Status == domain.SessionCompleted {
		return true
	}

	if rm.chunks != nil {
		done, err := rm.chunks.PreprocessedSet(ctx, payload.SessionID)
		if err == nil && done[payload.ChunkNumber] {
			return true
		}
	}
	return false
}

// moveToDLQ parks a task in the Dead Letter Queue.
func (rm *RetryManager) moveToDLQ(ctx domain.Context, payload domain.PreprocessTaskPayload, retryInfo *domain.RetryInfo, reason string) error {
	retryInfo.MarkAsDLQ()

	dlqTask := domain.DLQTask{
		TaskKey:          TaskKey(payload),
		OriginalPayload:  payload,
		RetryInfo:        *retryInfo,
		FailureReason:    reason,
		MovedToDLQAt:     time.Now(),
		CanBeReprocessed: true,
	}

	dlqData, err := json.Marshal(dlqTask)
	if err != nil {
		slog.Error("failed to marshal DLQ task",
			slog.String("task_key", dlqTask.TaskKey),
			slog.Any("error", err))
		return fmt.Errorf("marshal DLQ task: %w", err)
	}

	if err := rm.dlqProducer.EnqueueDLQ(ctx, dlqTask.TaskKey, dlqData); err != nil {
		slog.Error("failed to enqueue task to DLQ",
			slog.String("task_key", dlqTask.TaskKey),
			slog.Any("error", err))
		return fmt.Errorf("enqueue to DLQ: %w", err)
	}

	slog.Info("task moved to DLQ",
		slog.String("task_key", dlqTask.TaskKey),
		slog.String("reason", reason),
		slog.Int("attempt_count", retryInfo.AttemptCount))
	return nil
}

// ProcessDLQTask handles a task read back from the Dead Letter Queue.
// Tasks parked for upstream rate limits or timeouts stay parked until the
// cooling window lapses; everything else is requeued right away.
func (rm *RetryManager) ProcessDLQTask(ctx domain.Context, dlqTask domain.DLQTask) error {
	if !dlqTask.CanBeReprocessed {
		slog.Info("DLQ task cannot be reprocessed",
			slog.String("task_key", dlqTask.TaskKey),
			slog.String("failure_reason", dlqTask.FailureReason))
		return fmt.Errorf("DLQ task cannot be reprocessed")
	}

	combined := strings.ToLower(dlqTask.FailureReason + " " + dlqTask.RetryInfo.LastError)
	isRateLimitOrTimeout := strings.Contains(combined, "rate limit") ||
		strings.Contains(combined, "timeout") ||
		strings.Contains(combined, "deadline exceeded")
	if isRateLimitOrTimeout {
		cooldownUntil := dlqTask.MovedToDLQAt.Add(dlqCooldown)
		if delay := time.Until(cooldownUntil); delay > 0 {
			slog.Info("DLQ cooling in effect for upstream rate limit or timeout",
				slog.String("task_key", dlqTask.TaskKey),
				slog.Duration("cooling_remaining", delay))
			go func(task domain.DLQTask, d time.Duration) {
				time.Sleep(d)
				if err := rm.requeueFromDLQ(context.Background(), task); err != nil {
					slog.Error("failed to requeue cooled DLQ task",
						slog.String("task_key", task.TaskKey),
						slog.Any("error", err))
				}
			}(dlqTask, delay)
			return nil
		}
	}

	return rm.requeueFromDLQ(ctx, dlqTask)
}

// requeueFromDLQ puts the original payload back on the preprocess topic,
// unless the task has become obsolete while parked.
func (rm *RetryManager) requeueFromDLQ(ctx domain.Context, dlqTask domain.DLQTask) error {
	if rm.taskObsolete(ctx, dlqTask.OriginalPayload) {
		slog.Info("dropping DLQ task for finished session",
			slog.String("task_key", dlqTask.TaskKey),
			slog.String("original_failure_reason", dlqTask.FailureReason))
		return nil
	}

	if _, err := rm.producer.EnqueuePreprocess(ctx, dlqTask.OriginalPayload); err != nil {
		slog.Error("failed to enqueue DLQ task for reprocessing",
			slog.String("task_key", dlqTask.TaskKey),
			slog.Any("error", err))
		return fmt.Errorf("enqueue DLQ task for reprocessing: %w", err)
	}

	slog.Info("DLQ task enqueued for reprocessing",
		slog.String("task_key", dlqTask.TaskKey),
		slog.String("original_failure_reason", dlqTask.FailureReason))
	return nil
}
