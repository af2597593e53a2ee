package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/analytics"
	"github.com/patrickwarner/openpersonalize/internal/api"
	"github.com/patrickwarner/openpersonalize/internal/config"
	"github.com/patrickwarner/openpersonalize/internal/db"
	"github.com/patrickwarner/openpersonalize/internal/geoip"
	"github.com/patrickwarner/openpersonalize/internal/logic/ratelimit"
	"github.com/patrickwarner/openpersonalize/internal/metrics"
	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
	"github.com/patrickwarner/openpersonalize/internal/personalization"
	"github.com/patrickwarner/openpersonalize/internal/tracking"
)

// limiterIdle is how long an unused per-user bucket is kept.
const limiterIdle = 10 * time.Minute

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

// backends are the rule store, catalog store and cache the service runs on.
type backends struct {
	rules   models.RuleStore
	catalog models.CatalogStore
	cache   personalization.Cache
	counter metrics.CounterStore
	redis   *db.RedisStore
	pg      *db.Postgres
	memory  *models.InMemoryStore
}

func (b *backends) close() {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.pg != nil {
		b.pg.Close()
	}
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.CacheBackend {
	case "redis":
		rs, err := db.InitRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		b.redis, b.cache, b.counter = rs, rs, rs
	case "memory":
		mc := db.NewMemoryCache(time.Minute)
		b.cache, b.counter = mc, mc
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}

	if cfg.StoreBackend == "postgres" || cfg.SnapshotFromPostgres {
		pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		b.pg = pg
	}

	switch cfg.StoreBackend {
	case "postgres":
		b.rules, b.catalog = b.pg, b.pg
	case "memory":
		b.memory = models.NewInMemoryStore()
		if cfg.SnapshotFromPostgres {
			if err := db.LoadSnapshot(ctx, b.pg, b.memory); err != nil {
				b.close()
				return nil, err
			}
		}
		b.rules, b.catalog = b.memory, b.memory
	default:
		b.close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return b, nil
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	metricsRegistry := observability.NewPrometheusRegistry()

	var (
		sink   analytics.InteractionSink
		reader analytics.InteractionReader
	)
	analyticsSvc, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, analytics.PoolConfig{
		MaxOpenConns:    cfg.CHMaxOpenConns,
		MaxIdleConns:    cfg.CHMaxIdleConns,
		ConnMaxLifetime: cfg.CHConnMaxLifetime,
		ConnMaxIdleTime: cfg.CHConnMaxIdleTime,
	}, metricsRegistry, logger)
	if err != nil {
		logger.Warn("clickhouse unavailable, interaction history disabled", zap.Error(err))
	} else {
		defer analyticsSvc.Close()
		sink, reader = analyticsSvc, analyticsSvc
	}

	geoSvc, err := geoip.Init(cfg.GeoIPDB)
	if err != nil {
		logger.Warn("geoip unavailable, country enrichment disabled", zap.Error(err))
	} else {
		defer func() { _ = geoSvc.Close() }()
	}

	svc := personalization.NewService(personalization.Deps{
		Rules:    b.rules,
		Catalog:  b.catalog,
		Cache:    b.cache,
		Metrics:  metrics.NewAggregator(b.counter, metricsRegistry, logger, cfg.DependencyTimeout),
		Registry: metricsRegistry,
		Logger:   logger,
	}, personalization.Options{
		TTL:          cfg.CacheTTL,
		Timeout:      cfg.DependencyTimeout,
		EpochTTL:     cfg.RulesEpochTTL,
		ContentLimit: cfg.ContentLimit,
		ServiceLimit: cfg.ServiceLimit,
	})

	tracker := tracking.New(b.redis, sink, metricsRegistry, logger, tracking.Options{
		Timeout:       cfg.InteractionTimeout,
		HistoryLength: cfg.RecentHistoryLength,
	})
	defer tracker.Close()

	limiter := ratelimit.NewKeyedLimiter("interactions", ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillRate,
		Enabled:    cfg.RateLimitEnabled,
	}, metricsRegistry)

	srvDeps := api.NewServer(logger, svc, tracker, reader, geoSvc, limiter, metricsRegistry, cfg.DebugTrace)
	if b.redis != nil {
		srvDeps.Checks["redis"] = b.redis.Ping
	}
	if b.pg != nil {
		srvDeps.Checks["postgres"] = b.pg.Ping
	}
	if analyticsSvc != nil {
		srvDeps.Checks["clickhouse"] = func(ctx context.Context) error { return analyticsSvc.DB.PingContext(ctx) }
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      srvDeps.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Personalization server running",
		zap.String("addr", addr),
		zap.String("store", cfg.StoreBackend),
		zap.String("cache", cfg.CacheBackend))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	go pruneLimiter(ctx, limiter, logger)
	if b.memory != nil && b.pg != nil && cfg.SnapshotInterval > 0 {
		go refreshSnapshot(ctx, cfg.SnapshotInterval, b, svc, logger)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func pruneLimiter(ctx context.Context, limiter *ratelimit.KeyedLimiter, logger *zap.Logger) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := limiter.Prune(limiterIdle); n > 0 {
				logger.Debug("pruned rate limit buckets", zap.Int("buckets", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// refreshSnapshot reloads the memory store from Postgres on every tick and
// rotates the rules epoch so cached evaluations pick up the new rules.
func refreshSnapshot(ctx context.Context, every time.Duration, b *backends, svc *personalization.Service, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := db.LoadSnapshot(ctx, b.pg, b.memory); err != nil {
				logger.Error("auto reload", zap.Error(err))
				continue
			}
			if err := svc.InvalidateRules(ctx); err != nil {
				logger.Error("invalidate rules after reload", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
