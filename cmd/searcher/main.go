// Command searcher serves keyword search over one bulletin index snapshot.
//
// The snapshot and synonym table are loaded once at start; rebuilding the
// index requires a restart. Redis caching, Kafka analytics and the
// PostgreSQL analytics store are optional and enabled from the config.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics"
	analyticsstore "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/tagger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/render"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/searcher/synonym"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/redis"
)

const analyticsSaveInterval = 5 * time.Minute

// meteredFetcher counts bodies that could not be re-read for rendering.
type meteredFetcher struct {
	render.BodyFetcher
	failures prometheus.Counter
}

func (f meteredFetcher) Body(src string, row int) (string, error) {
	body, err := f.BodyFetcher.Body(src, row)
	if err != nil {
		f.failures.Inc()
	}
	return body, err
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "snapshot", cfg.Index.SnapshotPath)

	ix, err := snapshot.Load(cfg.Index.SnapshotPath)
	if err != nil {
		slog.Error("failed to load index snapshot", "error", err)
		os.Exit(1)
	}
	synonyms, err := synonym.LoadOrDefault(cfg.Index.SynonymsPath)
	if err != nil {
		slog.Error("failed to load synonym table", "error", err)
		os.Exit(1)
	}
	slog.Info("index loaded",
		"entries", ix.Len(),
		"checksum", ix.Checksum,
		"synonym_groups", synonyms.Len(),
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	m.IndexEntries.Set(float64(ix.Len()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()
	checker.Register("index", health.IndexCheck(ix.Len))

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, ix.Checksum)
			checker.Register("redis", health.PingCheck(redisClient, true))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator()
	var publisher analytics.Publisher = analytics.NewLocalPublisher(aggregator)
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		publisher = producer
		for _, topic := range []string{cfg.Kafka.Topics.SearchEvents, cfg.Kafka.Topics.IndexComplete} {
			consumer := kafka.NewConsumer(cfg.Kafka, topic, analytics.HandleEvent(aggregator))
			go func(topic string) {
				if err := aggregator.Consume(ctx, consumer); err != nil {
					slog.Error("analytics consumer stopped", "topic", topic, "error", err)
				}
			}(topic)
		}
		slog.Info("analytics events routed through kafka", "brokers", cfg.Kafka.Brokers)
	}
	collector := analytics.NewCollector(publisher, 10000)
	collector.Start(ctx)
	defer collector.Close()

	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
		} else {
			defer db.Close()
			store := analyticsstore.NewStore(db, analyticsstore.DefaultRetain)
			if err := store.EnsureSchema(ctx); err != nil {
				slog.Warn("analytics schema setup failed", "error", err)
			} else {
				store.StartPeriodicSave(ctx, aggregator, analyticsSaveInterval)
			}
			checker.Register("postgres", health.PingCheck(db, true))
		}
	}

	var keywords handler.KeywordExtractor
	if extractor, err := tagger.FromConfig(cfg.Tagger); err != nil {
		slog.Warn("text analyzer unavailable, advanced search disabled", "error", err)
	} else if extractor.HasAnalyzer() {
		keywords = extractor
		slog.Info("advanced search enabled", "analyzer", cfg.Tagger.Mode)
	}

	fetcher := meteredFetcher{BodyFetcher: source.NewFetcher(ix.BaseDir), failures: m.RowFetchFailures}
	h := handler.New(handler.Deps{
		Executor:  executor.New(ix.Entries, synonyms),
		Renderer:  render.New(fetcher),
		Index:     ix,
		Cache:     queryCache,
		Collector: collector,
		Metrics:   m,
		Keywords:  keywords,
	}, cfg.Search)
	analyticsH := analytics.NewHandler(aggregator)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("/api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("/api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /api/v1/analytics/last-build", analyticsH.LastBuild)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimitPerMinute, time.Minute)
		defer limiter.Close()
		chain = middleware.RateLimit(limiter)(chain)
	}
	if len(cfg.Server.AllowOrigins) > 0 {
		chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins))(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.Recover(chain)

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
