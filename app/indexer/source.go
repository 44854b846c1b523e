package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/kafka"
	"github.com/canopy-network/roscax/pkg/projection"
	"github.com/canopy-network/roscax/pkg/redis"
)

// Source delivers the circle event feed to the projection until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context) error
	Close() error
}

// streamSource reads a Redis stream as a consumer group member and applies each batch through the dispatcher.
type streamSource struct {
	consumer   *redis.StreamConsumer
	dispatcher *projection.Dispatcher
}

func (s *streamSource) Name() string { return "redis" }

func (s *streamSource) Run(ctx context.Context) error {
	return s.consumer.Run(ctx, batchHandler(s.dispatcher))
}

func (s *streamSource) Close() error {
	s.dispatcher.Close()
	return nil
}

// batchHandler acknowledges the entries the dispatcher reports as final.
func batchHandler(d *projection.Dispatcher) redis.BatchHandler {
	return func(ctx context.Context, msgs []redis.Message) ([]string, error) {
		batch := make([]projection.Delivery, 0, len(msgs))
		for i := range msgs {
			batch = append(batch, projection.Delivery{ID: msgs[i].ID, Data: msgs[i].GetData()})
		}
		return d.ProcessBatch(ctx, batch)
	}
}

// topicSource reads a Kafka topic. Partitions keep per-circle order, so messages are applied one by one.
type topicSource struct {
	consumer *kafka.Consumer
	engine   *projection.Engine
}

func (s *topicSource) Name() string { return "kafka" }

func (s *topicSource) Run(ctx context.Context) error {
	return s.consumer.Run(ctx, messageHandler(s.engine))
}

func (s *topicSource) Close() error {
	return s.consumer.Close()
}

func messageHandler(e *projection.Engine) kafka.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		_, err := e.ProcessRaw(ctx, msg.ID, msg.Value)
		return err
	}
}

func newSource(cfg sourceConfig, engine *projection.Engine, redisClient *redis.Client, logger *zap.Logger) (Source, error) {
	switch cfg.Kind {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis event source needs a redis client")
		}
		consumer, err := redis.NewStreamConsumer(redisClient, redis.StreamConsumerConfig{
			Stream:   cfg.Stream,
			Group:    cfg.Group,
			Consumer: cfg.Consumer,
			Count:    cfg.BatchSize,
			Logger:   logger.With(zap.String("component", "stream_consumer")),
		})
		if err != nil {
			return nil, err
		}
		return &streamSource{
			consumer:   consumer,
			dispatcher: projection.NewDispatcher(engine, logger, cfg.Lanes),
		}, nil
	case "kafka":
		consumer, err := kafka.NewConsumer(kafka.ConfigFromEnv(), logger.With(zap.String("component", "kafka_consumer")))
		if err != nil {
			return nil, err
		}
		return &topicSource{consumer: consumer, engine: engine}, nil
	default:
		return nil, fmt.Errorf("unknown event source %q, must be redis or kafka", cfg.Kind)
	}
}
