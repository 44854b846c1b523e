package query

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/canopy-network/roscax/app/query/types"
	"github.com/canopy-network/roscax/pkg/db/backend"
	"github.com/canopy-network/roscax/pkg/logging"
	"github.com/canopy-network/roscax/pkg/metrics"
	facade "github.com/canopy-network/roscax/pkg/query"
	"github.com/canopy-network/roscax/pkg/redis"
	"github.com/canopy-network/roscax/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("query")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	store, err := backend.Open(ctx, logger, "query")
	if err != nil {
		logger.Fatal("Unable to open entity store", zap.Error(err))
	}

	// Initialize Redis client for real-time WebSocket updates (optional)
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - WebSocket circle updates will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for WebSocket circle updates")
		}
	} else {
		logger.Info("Redis disabled - WebSocket circle updates will not be available")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &types.App{
		Store:       store,
		Facade:      facade.New(store),
		RedisClient: redisClient,
		Registry:    registry,
		Metrics:     metrics.NewHTTP(registry),
		Logger:      logger,
	}
}
