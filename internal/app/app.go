package app

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/szczecha/saleor/internal/cache"
	"github.com/szczecha/saleor/internal/config"
	"github.com/szczecha/saleor/internal/event"
	handler "github.com/szczecha/saleor/internal/handler/http"
	"github.com/szczecha/saleor/internal/repository/postgres"
	"github.com/szczecha/saleor/internal/service"
	"github.com/szczecha/saleor/pkg/database"
	"github.com/szczecha/saleor/pkg/health"
	"github.com/szczecha/saleor/pkg/kafka"
	"github.com/szczecha/saleor/pkg/tracing"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Version is set at build time via -ldflags.
var Version = "dev"

// App wires the promotion engine together and owns its lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool     *pgxpool.Pool
	redis    *redis.Client
	producer *kafka.Producer
	sweeper  *service.LifecycleSweeper
	server   *http.Server

	shutdownTracing func(context.Context) error
}

// New builds the application: database, cache, broker, services, and the
// HTTP server. It runs migrations before returning.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	shutdownTracing, err := tracing.InitTracer(ctx, cfg.Tracing.Tracer(cfg.Environment, Version))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.shutdownTracing = shutdownTracing

	poolCfg := cfg.Postgres.Pool()
	a.pool, err = database.NewPostgresPool(ctx, &poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := database.RunMigrations(ctx, a.pool, migrations, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	promotionRepo := postgres.NewPromotionRepository(a.pool)
	channelRepo := postgres.NewChannelRepository(a.pool)

	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", a.pool.Ping)

	var ruleCache *cache.RuleCache
	if cfg.Cache.Enabled {
		a.redis, err = database.NewRedisClient(ctx, cfg.Redis.Client())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		ruleCache = cache.NewRuleCache(a.redis, cfg.Cache.RuleTTL, logger)
		healthHandler.Register("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	var publisher *event.Publisher
	if cfg.Kafka.Enabled {
		a.producer = kafka.NewProducer(kafka.DefaultProducerConfig(cfg.Kafka.Brokers), logger)
		publisher = event.NewPublisher(a.producer)
		healthHandler.Register("kafka", a.producer.Ping)
	}

	// Interface-typed nils would dodge the service's nil checks, so only
	// pass the optional collaborators when they exist.
	var (
		svcPublisher   service.EventPublisher
		svcInvalidator service.RuleInvalidator
		svcCacheStore  service.RuleCacheStore
		svcFlusher     service.CacheFlusher
	)
	if publisher != nil {
		svcPublisher = publisher
	}
	if ruleCache != nil {
		svcInvalidator = ruleCache
		svcCacheStore = ruleCache
		svcFlusher = ruleCache
	}

	promotionSvc := service.NewPromotionService(promotionRepo, channelRepo, svcPublisher, svcInvalidator, logger)
	pricingSvc := service.NewPricingService(promotionRepo, channelRepo, svcCacheStore, logger)
	a.sweeper = service.NewLifecycleSweeper(promotionRepo, svcPublisher, svcFlusher, cfg.Sweep.Interval, logger)

	router := handler.NewRouter(handler.RouterDeps{
		Promotions: handler.NewPromotionHandler(promotionSvc),
		Pricing:    handler.NewPricingHandler(pricingSvc),
		Channels:   handler.NewChannelHandler(channelRepo),
		Health:     healthHandler,
		Logger:     logger,
		CORS:       cfg.CORS.Middleware(),
	})

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return a, nil
}

// Run starts the lifecycle sweeper and the HTTP server, blocking until the
// context is cancelled or the server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(sweepCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}

	stopSweeper()
	wg.Wait()
	a.close(shutdownCtx)

	return runErr
}

func (a *App) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close failed", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close failed", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Error("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}
	a.logger.Info("shutdown complete")
}
