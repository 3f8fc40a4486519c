package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// DLQConsumer reads parked preprocess tasks and hands them to the retry
// manager, which enforces the cooling window before requeueing.
type DLQConsumer struct {
	client       *kgo.Client
	retryManager *RetryManager
	groupID      string
	topic        string
	shutdown     chan struct{}
}

// NewDLQConsumer creates a new DLQ consumer.
func NewDLQConsumer(brokers []string, groupID string, retryManager *RetryManager) (*DLQConsumer, error) {
	slog.Info("creating DLQ consumer",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if retryManager == nil {
		return nil, fmt.Errorf("missing retry manager")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicDLQ),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.RequireStableFetchOffsets(),

		// The DLQ carries little traffic; fetch small and often.
		kgo.FetchMaxBytes(1048576),
		kgo.FetchMaxWait(100 * time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxPartitionBytes(1048576),

		kgo.DialTimeout(30 * time.Second),
		kgo.RequestTimeoutOverhead(10 * time.Second),
		kgo.RetryTimeout(60 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		slog.Error("failed to create DLQ consumer client", slog.Any("error", err))
		return nil, fmt.Errorf("DLQ consumer client: %w", err)
	}

	slog.Info("DLQ consumer created", slog.String("group_id", groupID))
	return &DLQConsumer{
		client:       client,
		retryManager: retryManager,
		groupID:      groupID,
		topic:        TopicDLQ,
		shutdown:     make(chan struct{}),
	}, nil
}

// Start begins consuming DLQ messages in the background.
func (dc *DLQConsumer) Start(ctx context.Context) error {
	slog.Info("starting DLQ consumer",
		slog.String("group_id", dc.groupID),
		slog.String("topic", dc.topic))
	go dc.dlqMessageProcessor(ctx)
	return nil
}

// Stop stops the DLQ consumer.
func (dc *DLQConsumer) Stop() {
	slog.Info("stopping DLQ consumer")
	close(dc.shutdown)
	dc.client.Close()
}

func (dc *DLQConsumer) dlqMessageProcessor(ctx context.Context) {
	slog.Info("DLQ message processor started",
		slog.String("topic", dc.topic),
		slog.String("group_id", dc.groupID))

	for {
		select {
		case <-ctx.Done():
			slog.Info("DLQ message processor shutting down")
			return
		case <-dc.shutdown:
			slog.Info("DLQ message processor shutting down")
			return
		default:
			fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
			fetches := dc.client.PollFetches(fetchCtx)
			cancel()

			if errs := fetches.Errors(); len(errs) > 0 {
				for _, err := range errs {
					slog.Error("DLQ fetch error",
						slog.String("topic", err.Topic),
						slog.Int("partition", int(err.Partition)),
						slog.Any("error", err.Err))
				}
				time.Sleep(2 * time.Second)
				continue
			}

			if fetches.NumRecords() == 0 {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			fetches.EachRecord(func(record *kgo.Record) {
				dc.processDLQRecord(ctx, record)
			})

			slog.Info("processed DLQ messages", slog.Int("count", fetches.NumRecords()))
		}
	}
}

// processDLQRecord decodes one DLQ envelope and runs it through the retry
// manager. Malformed records are logged and skipped so one bad message
// cannot wedge the topic.
func (dc *DLQConsumer) processDLQRecord(ctx context.Context, record *kgo.Record) {
	slog.Info("processing DLQ record",
		slog.String("topic", record.Topic),
		slog.Int("partition", int(record.Partition)),
		slog.Int64("offset", record.Offset),
		slog.String("key", string(record.Key)))

	var envelope dlqEnvelope
	if err := json.Unmarshal(record.Value, &envelope); err != nil {
		slog.Error("failed to unmarshal DLQ envelope",
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		return
	}

	if envelope.TaskKey == "" {
		slog.Error("DLQ envelope missing task_key",
			slog.Int64("offset", record.Offset))
		return
	}

	var dlqTask domain.DLQTask
	if err := json.Unmarshal(envelope.DLQData, &dlqTask); err != nil {
		slog.Error("failed to unmarshal DLQ task",
			slog.String("task_key", envelope.TaskKey),
			slog.Any("error", err))
		return
	}

	if err := dc.retryManager.ProcessDLQTask(ctx, dlqTask); err != nil {
		slog.Error("failed to process DLQ task",
			slog.String("task_key", envelope.TaskKey),
			slog.Any("error", err))
		return
	}

	slog.Info("DLQ task processed",
		slog.String("task_key", envelope.TaskKey),
		slog.String("original_failure_reason", dlqTask.FailureReason))
}
