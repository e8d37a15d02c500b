package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/pkg/workerpool"
)

// ConsumerConfig holds configuration for the consumer
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// SessionTimeoutMS is the group session timeout
	SessionTimeoutMS int64
	// HeartbeatIntervalMS is the group heartbeat interval
	HeartbeatIntervalMS int64
	// FetchMaxBytes is the maximum fetch size
	FetchMaxBytes int32
	// StartOffset is earliest or latest
	StartOffset string
	// Pool sizes the workers that run the handler
	Pool workerpool.Config
}

// DefaultConsumerConfig returns defaults for the delivery consumer
func DefaultConsumerConfig(brokers []string, groupID string, topics ...string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:             brokers,
		GroupID:             groupID,
		Topics:              topics,
		SessionTimeoutMS:    30000,
		HeartbeatIntervalMS: 3000,
		FetchMaxBytes:       8 << 20,
		StartOffset:         "earliest",
		Pool:                workerpool.DefaultConfig(),
	}
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// FailureHandler is called for a message whose handler failed for good.
// The offset is committed afterwards.
type FailureHandler func(ctx context.Context, msg *ConsumedMessage, err error)

// ConsumedMessage represents a consumed record
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Consumer reads a consumer group and runs each record on a worker pool.
// Offsets are committed per fetch, after every record in it finished.
type Consumer struct {
	client    *kgo.Client
	logger    *zap.Logger
	tracer    trace.Tracer
	handler   MessageHandler
	onFailure FailureHandler
	pool      *workerpool.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messagesRead atomic.Int64
	errorCount   atomic.Int64
	lastCommit   atomic.Int64
}

// NewConsumer creates a consumer. onFailure may be nil.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, onFailure FailureHandler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS) * time.Millisecond),
		kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(ctx context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
		}),
	}

	switch cfg.StartOffset {
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	default:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		client:    client,
		logger:    logger,
		tracer:    otel.Tracer("redpanda-consumer"),
		handler:   handler,
		onFailure: onFailure,
		ctx:       ctx,
		cancel:    cancel,
	}

	pool, err := workerpool.New(cfg.Pool, c.runRecord, logger)
	if err != nil {
		cancel()
		client.Close()
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// Start begins consuming messages
func (c *Consumer) Start() {
	c.pool.Start()
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop stops polling, lets in-flight records finish and closes the client
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
	c.pool.Stop()
	c.client.Close()
}

// Ping checks broker connectivity
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				c.logger.Error("fetch error",
					zap.String("topic", err.Topic),
					zap.Int32("partition", err.Partition),
					zap.Error(err.Err))
				c.errorCount.Add(1)
			}
			continue
		}

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}
		if !c.processFetch(records) {
			// shutting down; uncommitted records are redelivered to the next member
			return
		}

		c.client.MarkCommitRecords(records...)
		if err := c.client.CommitUncommittedOffsets(c.ctx); err != nil {
			c.logger.Error("failed to commit offsets", zap.Error(err))
			c.errorCount.Add(1)
			continue
		}
		c.lastCommit.Store(time.Now().UnixNano())
	}
}

// processFetch runs every record on the pool and waits for all of them.
// It returns false if the consumer stopped before every record finished.
func (c *Consumer) processFetch(records []*kgo.Record) bool {
	var wg sync.WaitGroup
	var interrupted atomic.Bool

	for _, record := range records {
		record := record
		msg := toMessage(record)
		ctx := extractTraceContext(c.ctx, record)

		wg.Add(1)
		task := &workerpool.Task{
			ID:      fmt.Sprintf("%s/%d/%d", record.Topic, record.Partition, record.Offset),
			Payload: msg,
			Context: ctx,
			Done: func(r *workerpool.Result) {
				defer wg.Done()
				c.messagesRead.Add(1)
				if r.Success {
					return
				}
				if c.ctx.Err() != nil {
					interrupted.Store(true)
					return
				}
				c.errorCount.Add(1)
				if c.onFailure != nil {
					c.onFailure(ctx, msg, r.Error)
				}
			},
		}
		if err := c.pool.Submit(c.ctx, task); err != nil {
			wg.Done()
			interrupted.Store(true)
			break
		}
	}

	wg.Wait()
	return !interrupted.Load()
}

func (c *Consumer) runRecord(ctx context.Context, task *workerpool.Task) error {
	msg := task.Payload.(*ConsumedMessage)

	ctx, span := c.tracer.Start(ctx, "process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("topic", msg.Topic),
			attribute.Int64("partition", int64(msg.Partition)),
			attribute.Int64("offset", msg.Offset),
		))
	defer span.End()

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Warn("message handler failed",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		span.RecordError(err)
		return err
	}
	return nil
}

func toMessage(record *kgo.Record) *ConsumedMessage {
	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   make(map[string]string, len(record.Headers)),
		Timestamp: record.Timestamp,
	}
	for _, h := range record.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// Healthy reports whether the worker queue still has headroom
func (c *Consumer) Healthy() bool {
	return c.pool.IsHealthy()
}

// ConsumerStats holds consumer counters
type ConsumerStats struct {
	MessagesRead   int64
	ErrorCount     int64
	LastCommitTime time.Time
	Pool           workerpool.Stats
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	var last time.Time
	if ns := c.lastCommit.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return ConsumerStats{
		MessagesRead:   c.messagesRead.Load(),
		ErrorCount:     c.errorCount.Load(),
		LastCommitTime: last,
		Pool:           c.pool.Stats(),
	}
}
