package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mrhatman/booksearch/internal/analytics"
	"github.com/mrhatman/booksearch/internal/catalog"
	"github.com/mrhatman/booksearch/internal/events"
	"github.com/mrhatman/booksearch/internal/searcher/cache"
	"github.com/mrhatman/booksearch/internal/searcher/executor"
	"github.com/mrhatman/booksearch/internal/searcher/handler"
	"github.com/mrhatman/booksearch/internal/store"
	"github.com/mrhatman/booksearch/pkg/config"
	apperrors "github.com/mrhatman/booksearch/pkg/errors"
	"github.com/mrhatman/booksearch/pkg/health"
	"github.com/mrhatman/booksearch/pkg/kafka"
	"github.com/mrhatman/booksearch/pkg/logger"
	"github.com/mrhatman/booksearch/pkg/metrics"
	"github.com/mrhatman/booksearch/pkg/middleware"
	"github.com/mrhatman/booksearch/pkg/ratelimit"
	pkgredis "github.com/mrhatman/booksearch/pkg/redis"
	"github.com/mrhatman/booksearch/pkg/resilience"
)

const localCacheSize = 4096

func main() {
	configPath := flag.String("config", "", "path to config file")
	indexPath := flag.String("index", "", "searchindex.js or searchindex.json to serve (overrides index.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *indexPath != "" {
		cfg.Index.Path = *indexPath
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"index_source", cfg.Index.Source,
		"snapshot_backend", cfg.Index.SnapshotBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	snapshots, err := store.Open(cfg)
	if err != nil {
		slog.Error("failed to open snapshot store", "backend", cfg.Index.SnapshotBackend, "error", err)
		os.Exit(1)
	}
	if snapshots != nil {
		defer snapshots.Close()
	}

	cat := catalog.New(catalog.Options{
		Path:    cfg.Index.Path,
		Origin:  cfg.Index.Source,
		Store:   snapshots,
		Metrics: m,
	})
	if err := initialLoad(ctx, cat, cfg); err != nil {
		// The service still starts; readiness stays down until a reload
		// succeeds.
		slog.Error("initial index load failed", "error", err)
	}
	if cfg.Index.Watch && cfg.Index.Source == catalog.OriginFile {
		go func() {
			if err := cat.Watch(ctx); err != nil {
				slog.Error("index watcher stopped", "error", err)
			}
		}()
	}

	var redisClient *pkgredis.Client
	var queryCache *cache.QueryCache
	if cfg.Search.CacheEnabled {
		var backend cache.Backend
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, using in-process cache", "error", err)
			local, lerr := cache.NewLocal(localCacheSize)
			if lerr != nil {
				slog.Error("failed to create local cache", "error", lerr)
				os.Exit(1)
			}
			backend = local
		} else {
			defer redisClient.Close()
			backend = redisClient
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
		queryCache = cache.New(backend, cfg.Redis.CacheTTL, m)

		// Results of a replaced index can never be served again.
		cat.OnSwap(func(prev, next *catalog.Entry) {
			if prev == nil {
				return
			}
			if _, err := queryCache.Invalidate(context.Background(), prev.Fingerprint); err != nil {
				slog.Warn("failed to drop cached results of previous index", "fingerprint", prev.Fingerprint, "error", err)
			}
		})
	}

	aggregator := analytics.NewAggregator(nil)
	var sink analytics.Sink = analytics.LocalSink{Aggregator: aggregator}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		sink = producer
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, kafka.ConsumerOptions{}, analytics.HandleEvent(aggregator))
		defer consumer.Close()
		aggregator.SetConsumer(consumer)
	}
	collector := analytics.NewCollector(sink, 10000, 100, time.Second)
	collector.Start(ctx)
	defer collector.Close()
	go func() {
		if err := aggregator.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("analytics aggregator error", "error", err)
		}
	}()
	if pg, ok := snapshots.(*store.Postgres); ok {
		analyticsStore, err := analytics.NewStore(ctx, pg.DB())
		if err != nil {
			slog.Warn("analytics snapshots disabled", "error", err)
		} else {
			analyticsStore.StartPeriodicSave(ctx, aggregator, func() string {
				if e, err := cat.Current(); err == nil {
					return e.Fingerprint
				}
				return ""
			}, time.Minute)
		}
	}

	if cfg.Kafka.Enabled && snapshots != nil {
		// Every instance must see every announcement, so each gets its own
		// consumer group.
		group := fmt.Sprintf("%s-searchd-%s", cfg.Kafka.ConsumerGroup, uuid.NewString()[:8])
		subscriber := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished,
			kafka.ConsumerOptions{GroupID: group}, events.HandleIndexPublished(cat))
		defer subscriber.Close()
		go func() {
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("index.published consumer error", "error", err)
			}
		}()
		slog.Info("subscribed to index announcements", "topic", cfg.Kafka.Topics.IndexPublished, "group", group)
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		e, err := cat.Current()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents, fingerprint %s", e.Stats.Documents, e.Fingerprint),
		}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.PingCheck(redisClient.Ping, health.StatusDegraded)(ctx)
	})
	if pg, ok := snapshots.(*store.Postgres); ok {
		checker.Register("snapshot_store", health.PingCheck(pg.DB().Ping, health.StatusDegraded))
	}

	exec := executor.New(cfg.Search)
	h := handler.New(cat, exec, queryCache, collector, m)
	analyticsH := analytics.NewHandler(aggregator)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		limiter.StartPruning(ctx, 5*time.Minute)
		chain = middleware.RateLimit(limiter, "/api/v1/search", cfg.Server.TrustedProxies)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins))(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// In-flight requests still use the cache, store and collector, so main
	// waits for Shutdown before its deferred closes run.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-shutdownDone

	slog.Info("search service stopped")
}

// initialLoad loads the first index. Snapshot stores may still be starting
// alongside the service, so snapshot loads are retried; an invalid snapshot
// is not.
func initialLoad(ctx context.Context, cat *catalog.Catalog, cfg *config.Config) error {
	if cfg.Index.Source != catalog.OriginSnapshot {
		_, err := cat.LoadFile("")
		return err
	}
	return resilience.Retry(ctx, "initial-snapshot-load", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Permanent: func(err error) bool {
			return errors.Is(err, apperrors.ErrInvalidIndex)
		},
	}, func() error {
		_, err := cat.LoadSnapshot(ctx, "")
		return err
	})
}
