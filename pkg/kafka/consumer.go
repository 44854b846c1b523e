// Package kafka is the Kafka rendition of the circle event feed. Producers key every message by
// circle id, so one circle always lands on one partition and keeps its order.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/utils"
)

// Config configures a Consumer.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	// RetryInterval is the pause before a failed message is handed over again. Default: 1 second.
	RetryInterval time.Duration
	// MaxRetryInterval caps the backoff between attempts. Default: 30 seconds.
	MaxRetryInterval time.Duration
}

// ConfigFromEnv reads KAFKA_BROKERS, KAFKA_TOPIC and KAFKA_GROUP.
func ConfigFromEnv() Config {
	return Config{
		Brokers: utils.EnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		Topic:   utils.Env("KAFKA_TOPIC", "rosca.events"),
		GroupID: utils.Env("KAFKA_GROUP", "roscax-indexer"),
	}
}

// Message is one record of the feed.
type Message struct {
	// ID is stable across redeliveries: topic/partition/offset.
	ID        string
	Key       string
	Value     []byte
	Partition int
	Offset    int64
	Time      time.Time
}

// Handler processes one message. A non-nil error means the message is handed over again;
// its offset is committed only after a nil return.
type Handler func(ctx context.Context, msg Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader reader
	config Config
	logger *zap.Logger
}

func NewConsumer(config Config, logger *zap.Logger) (*Consumer, error) {
	if len(config.Brokers) == 0 || config.Topic == "" || config.GroupID == "" {
		return nil, errors.New("kafka brokers, topic and group are required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		GroupID:     config.GroupID,
		Topic:       config.Topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, config, logger), nil
}

func newConsumer(r reader, config Config, logger *zap.Logger) *Consumer {
	if config.RetryInterval == 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}
	return &Consumer{reader: r, config: config, logger: logger}
}

// Run fetches messages one at a time until ctx is cancelled. A message that fails is retried
// until it succeeds so later messages of its partition are never applied ahead of it.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	c.logger.Info("Kafka consumer started",
		zap.Strings("brokers", c.config.Brokers),
		zap.String("topic", c.config.Topic),
		zap.String("group", c.config.GroupID))

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Error fetching Kafka message, will retry", zap.Error(err))
			if !sleep(ctx, c.config.RetryInterval) {
				return ctx.Err()
			}
			continue
		}

		msg := Message{
			ID:        fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset),
			Key:       string(m.Key),
			Value:     m.Value,
			Partition: m.Partition,
			Offset:    m.Offset,
			Time:      m.Time,
		}
		if err := c.handle(ctx, handler, msg); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// the message is redelivered after a rebalance and recognised as a duplicate
			c.logger.Warn("Failed to commit Kafka offset",
				zap.String("id", msg.ID),
				zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler Handler, msg Message) error {
	interval := c.config.RetryInterval
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Kafka message failed, retrying",
			zap.String("id", msg.ID),
			zap.String("key", msg.Key),
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", interval),
			zap.Error(err))
		if !sleep(ctx, interval) {
			return ctx.Err()
		}
		interval = min(interval*2, c.config.MaxRetryInterval)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
