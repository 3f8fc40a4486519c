// Package redpanda provides the Redpanda/Kafka task queue for question
// preprocessing.
//
// The producer publishes chunk tasks inside Kafka transactions and the
// consumer reads them with read-committed isolation, so a task reaches the
// enrichment pipeline exactly once even across worker restarts. Tasks that
// keep failing on upstream backpressure are parked in a DLQ topic and
// requeued after a cooling window.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/observability"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

const (
	// TopicPreprocess carries chunk preprocess tasks to the worker.
	TopicPreprocess = "preprocess-chunks"
	// TopicDLQ parks tasks whose processing repeatedly failed upstream.
	TopicDLQ = "preprocess-dlq"
)

// TaskKey names one preprocess task: one chunk of one session.
func TaskKey(payload domain.PreprocessTaskPayload) string {
	return payload.SessionID + ":" + strconv.Itoa(payload.ChunkNumber)
}

// dlqEnvelope is the wire form of a DLQ record. DLQData holds a marshaled
// domain.DLQTask; the typed envelope keeps the []byte field intact across
// the JSON base64 roundtrip.
type dlqEnvelope struct {
	TaskKey   string `json:"task_key"`
	DLQData   []byte `json:"dlq_data"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	// transactionChan serializes transactions: the client allows one open
	// transaction at a time, while enqueues arrive concurrently.
	transactionChan chan struct{}
}

// NewProducer constructs a Producer with exactly-once semantics.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "calibr-interview-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional ID so tests can run several producers against one broker.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	slog.Info("creating redpanda producer",
		slog.Any("brokers", brokers),
		slog.String("transactional_id", transactionalID))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		slog.Error("failed to create redpanda client", slog.Any("error", err))
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ctx := context.Background()
	for _, topic := range []string{TopicPreprocess, TopicDLQ} {
		if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
			// The broker may have the topic already, or another instance
			// may have won the race.
			slog.Warn("failed to create topic, it may already exist",
				slog.String("topic", topic),
				slog.Any("error", err))
		}
	}

	return &Producer{
		client:          client,
		transactionChan: make(chan struct{}, 1),
	}, nil
}

// EnqueuePreprocess enqueues a chunk preprocess task with exactly-once
// semantics and returns its task key.
func (p *Producer) EnqueuePreprocess(ctx domain.Context, payload domain.PreprocessTaskPayload) (string, error) {
	return p.EnqueuePreprocessToTopic(ctx, payload, TopicPreprocess)
}

// EnqueuePreprocessToTopic enqueues a preprocess task to a specific topic.
// Tests use unique topics for isolation.
func (p *Producer) EnqueuePreprocessToTopic(ctx domain.Context, payload domain.PreprocessTaskPayload, topic string) (string, error) {
	key := TaskKey(payload)
	slog.Info("enqueueing preprocess task",
		slog.String("task_key", key),
		slog.String("session_id", payload.SessionID),
		slog.Int("chunk", payload.ChunkNumber),
		slog.String("topic", topic))

	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		p.abortTransaction(ctx)
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		// The session id keys the record so all chunk tasks of one session
		// land on one partition, in order.
		Key:   []byte(payload.SessionID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "session_id", Value: []byte(payload.SessionID)},
			{Key: "chunk", Value: []byte(strconv.Itoa(payload.ChunkNumber))},
			{Key: "request_id", Value: []byte(payload.RequestID)},
		},
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		p.abortTransaction(ctx)
		return "", fmt.Errorf("produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	observability.EnqueueJob("preprocess")
	slog.Info("preprocess task enqueued",
		slog.String("task_key", key),
		slog.String("topic", topic))
	return key, nil
}

// EnqueueDLQ parks a failed task on the DLQ topic inside a transaction.
// dlqData is the marshaled domain.DLQTask.
func (p *Producer) EnqueueDLQ(ctx domain.Context, taskKey string, dlqData []byte) error {
	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	b, err := json.Marshal(dlqEnvelope{
		TaskKey:   taskKey,
		DLQData:   dlqData,
		Timestamp: time.Now().Unix(),
		Type:      "dlq_task",
	})
	if err != nil {
		p.abortTransaction(ctx)
		return fmt.Errorf("marshal DLQ envelope: %w", err)
	}

	record := &kgo.Record{
		Topic: TopicDLQ,
		Key:   []byte(taskKey),
		Value: b,
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		p.abortTransaction(ctx)
		return fmt.Errorf("produce DLQ record: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("task parked in DLQ", slog.String("task_key", taskKey))
	return nil
}

func (p *Producer) abortTransaction(ctx context.Context) {
	if err := p.client.EndTransaction(ctx, kgo.TryAbort); err != nil {
		slog.Error("failed to abort transaction", slog.Any("error", err))
	}
}

// Ping checks broker connectivity. Readiness probes call this without
// opening a transaction.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("producer not initialized")
	}
	return p.client.Ping(ctx)
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	if p.transactionChan != nil {
		select {
		case <-p.transactionChan:
		default:
			close(p.transactionChan)
		}
	}
	return nil
}
