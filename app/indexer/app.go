package indexer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/backend"
	"github.com/canopy-network/roscax/pkg/logging"
	"github.com/canopy-network/roscax/pkg/metrics"
	"github.com/canopy-network/roscax/pkg/projection"
	"github.com/canopy-network/roscax/pkg/redis"
)

// App consumes the circle event feed and projects it into the entity store.
type App struct {
	Store       db.Store
	Engine      *projection.Engine
	Source      Source
	RedisClient *redis.Client

	// Cron runs the security deposit audit; nil when AUDIT_SCHEDULE is "off".
	Cron     *cron.Cron
	CronSpec string

	Registry *prometheus.Registry
	// Server exposes /metrics and /healthz.
	Server *http.Server
	Logger *zap.Logger
}

// Start runs the feed consumer and blocks until the context is canceled or the consumer stops.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Cron started", zap.String("cronSpec", a.CronSpec))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Logger.Info("Consuming circle events", zap.String("source", a.Source.Name()))
		if err := a.Source.Run(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Error("Event source stopped", zap.String("source", a.Source.Name()), zap.Error(err))
		}
		cancel()
	}()

	<-ctx.Done()
	<-done
	a.Stop()
}

// Stop releases every resource. The event source must have returned already.
func (a *App) Stop() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}

	if err := a.Source.Close(); err != nil {
		a.Logger.Error("Failed to close event source", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New("indexer")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg := configFromEnv()

	store, err := backend.Open(ctx, logger, "indexer")
	if err != nil {
		logger.Fatal("Unable to open entity store", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.needsRedis() {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to connect to redis", zap.Error(err))
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	projectionMetrics := metrics.NewProjection(registry)

	opts := []projection.Option{projection.WithMetrics(projectionMetrics)}
	if cfg.NotifyEnabled {
		opts = append(opts, projection.WithNotifier(redis.NewNotifier(redisClient)))
		logger.Info("Publishing circle updates on redis", zap.String("pattern", redis.CircleUpdatesPattern))
	}
	engine := projection.New(store, logger.With(zap.String("component", "projection")), opts...)

	source, err := newSource(cfg.Source, engine, redisClient, logger)
	if err != nil {
		logger.Fatal("Unable to initialize event source", zap.Error(err))
	}

	app := &App{
		Store:       store,
		Engine:      engine,
		Source:      source,
		RedisClient: redisClient,
		CronSpec:    cfg.AuditSpec,
		Registry:    registry,
		Logger:      logger,
	}

	if cfg.AuditSpec != "off" {
		auditor := projection.NewAuditor(store, logger.With(zap.String("component", "audit")), projectionMetrics)
		app.Cron, err = newScheduler(ctx, logger, cfg.AuditSpec, auditor)
		if err != nil {
			logger.Fatal("Invalid AUDIT_SCHEDULE", zap.String("spec", cfg.AuditSpec), zap.Error(err))
		}
	}

	app.Server = newMetricsServer(cfg.MetricsAddr, registry, store)
	return app
}

func newMetricsServer(addr string, registry *prometheus.Registry, store db.Store) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler(registry)).Methods(http.MethodGet)
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := store.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})).Methods(http.MethodGet)
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
}
