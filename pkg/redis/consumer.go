package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	// Stream is the Redis stream name to consume from (required).
	Stream string

	// Group is the consumer group name (required).
	Group string

	// Consumer is the consumer name within the group (required).
	Consumer string

	// Count is the max number of entries to read per batch. Default: 100.
	Count int64

	// Block is how long to wait for new entries. Default: 5 seconds.
	Block time.Duration

	// RetryInterval is how long to wait before retrying after an error
	// or before re-reading entries the handler did not acknowledge.
	// Default: 1 second.
	RetryInterval time.Duration

	// MaxRetryInterval is the maximum retry interval (with exponential backoff).
	// Default: 30 seconds.
	MaxRetryInterval time.Duration

	// Logger for logging. If nil, uses a no-op logger.
	Logger *zap.Logger
}

// BatchHandler processes a batch of entries in stream order and returns the IDs to acknowledge.
// Entries left out are re-read from the pending list on the next pass.
// Returning an error stops the consumer.
type BatchHandler func(ctx context.Context, msgs []Message) ([]string, error)

// Message represents a single stream entry with parsed fields.
type Message struct {
	// ID is the Redis stream entry ID (e.g., "1234567890123-0").
	ID string

	// Stream is the stream name this message came from.
	Stream string

	// Values contains the entry fields as key-value pairs.
	Values map[string]interface{}
}

type streamAPI interface {
	XReadGroup(ctx context.Context, group, consumer, stream, lastID string, count int64, block time.Duration) ([]redis.XMessage, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) error
}

// StreamConsumer consumes a Redis stream as a consumer group member with at-least-once delivery.
// On start, and whenever a batch is not fully acknowledged, it drains this consumer's pending
// entries before reading new ones, so unacknowledged entries come back in stream order.
//
// The pending drain is head-of-line: while an entry keeps failing, no new entries are read for
// any circle. The consumer cannot see circle ids, and reading past a held entry would hand later
// entries of the same circle to the handler ahead of it. Run more consumers in the group to keep
// other circles moving; each consumer only drains its own pending list.
type StreamConsumer struct {
	client streamAPI
	config StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer creates a new stream consumer.
func NewStreamConsumer(client streamAPI, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group == "" || config.Consumer == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}

	// Apply defaults
	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 1 * time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamConsumer{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Run reads batches and hands them to handler until ctx is cancelled or handler fails.
func (sc *StreamConsumer) Run(ctx context.Context, handler BatchHandler) error {
	if err := sc.client.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "0"); err != nil {
		return err
	}
	sc.logger.Info("Consumer group ready",
		zap.String("stream", sc.config.Stream),
		zap.String("group", sc.config.Group),
		zap.String("consumer", sc.config.Consumer))

	pending := true
	retryInterval := sc.config.RetryInterval

	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("Stream consumer shutting down",
				zap.String("stream", sc.config.Stream),
				zap.String("group", sc.config.Group))
			return ctx.Err()
		default:
		}

		lastID := ">"
		if pending {
			lastID = "0"
		}
		messages, err := sc.readMessages(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				// No messages available (timeout), continue
				continue
			}

			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))

			if !sleep(ctx, retryInterval) {
				return ctx.Err()
			}
			retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			continue
		}
		retryInterval = sc.config.RetryInterval

		if len(messages) == 0 {
			pending = false
			continue
		}

		acked, err := sc.processBatch(ctx, handler, messages)
		if err != nil {
			return err
		}
		if acked < len(messages) {
			sc.logger.Warn("Batch not fully acknowledged, re-reading pending entries",
				zap.String("stream", sc.config.Stream),
				zap.Int("batch", len(messages)),
				zap.Int("acked", acked),
				zap.Duration("retryIn", sc.config.RetryInterval))
			pending = true
			if !sleep(ctx, sc.config.RetryInterval) {
				return ctx.Err()
			}
		}
	}
}

// readMessages reads a batch of messages from the stream.
func (sc *StreamConsumer) readMessages(ctx context.Context, lastID string) ([]Message, error) {
	block := sc.config.Block
	if lastID != ">" {
		block = 0
	}
	xmsgs, err := sc.client.XReadGroup(ctx, sc.config.Group, sc.config.Consumer, sc.config.Stream, lastID, sc.config.Count, block)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(xmsgs))
	for _, xmsg := range xmsgs {
		messages = append(messages, Message{
			ID:     xmsg.ID,
			Stream: sc.config.Stream,
			Values: xmsg.Values,
		})
	}
	return messages, nil
}

// processBatch runs handler and acknowledges what it returns. Pending entries whose payload was
// trimmed from the stream have no values and are acknowledged without being handed over.
func (sc *StreamConsumer) processBatch(ctx context.Context, handler BatchHandler, messages []Message) (int, error) {
	var (
		live []Message
		ids  []string
	)
	for _, msg := range messages {
		if len(msg.Values) == 0 {
			ids = append(ids, msg.ID)
			continue
		}
		live = append(live, msg)
	}

	if len(live) > 0 {
		handled, err := handler(ctx, live)
		if err != nil {
			return 0, err
		}
		ids = append(ids, handled...)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := sc.client.XAck(ctx, sc.config.Stream, sc.config.Group, ids...); err != nil {
		sc.logger.Warn("Failed to acknowledge messages",
			zap.String("stream", sc.config.Stream),
			zap.Int("count", len(ids)),
			zap.Error(err))
		return 0, nil
	}
	return len(ids), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// GetData is a helper to extract the "data" field from a message.
// Returns nil if not found.
func (m *Message) GetData() []byte {
	if data, ok := m.Values["data"].(string); ok {
		return []byte(data)
	}
	if data, ok := m.Values["data"].([]byte); ok {
		return data
	}
	return nil
}
