// Command analytics aggregates bulletin search usage outside the searcher.
//
// It consumes search events and index-complete events from Kafka, folds
// them into in-memory statistics (query volume, latency percentiles, zero
// result queries, sort order and format usage, last build) and serves them
// at GET /api/v1/analytics. With PostgreSQL enabled the statistics are
// snapshotted periodically.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics"
	analyticsstore "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("analytics", cfg.Logging.Level, cfg.Logging.Format)
	if !cfg.Kafka.Enabled {
		slog.Error("analytics service needs kafka.enabled; the searcher aggregates in-process otherwise")
		os.Exit(1)
	}
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator()
	for _, topic := range []string{cfg.Kafka.Topics.SearchEvents, cfg.Kafka.Topics.IndexComplete} {
		consumer := kafka.NewConsumer(cfg.Kafka, topic, analytics.HandleEvent(aggregator),
			kafka.WithGroupID(cfg.Kafka.ConsumerGroup+"-analytics"), kafka.FromEarliest())
		go func(topic string) {
			if err := aggregator.Consume(ctx, consumer); err != nil {
				slog.Error("aggregator error", "topic", topic, "error", err)
			}
		}(topic)
		slog.Info("consuming analytics topic", "topic", topic)
	}

	checker := health.NewChecker()

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
				if last, err := store.LatestSnapshot(ctx); err != nil {
					slog.Warn("reading last analytics snapshot failed", "error", err)
				} else if last != nil {
					slog.Info("previous analytics snapshot found",
						"total_searches", last.TotalSearches,
						"zero_results", last.ZeroResultCount,
					)
				}
				store.StartPeriodicSave(ctx, aggregator, 5*time.Minute)
			}
			checker.Register("postgres", health.PingCheck(db, false))
		}
	}

	analyticsHandler := analytics.NewHandler(aggregator)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/last-build", analyticsHandler.LastBuild)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)
	chain = middleware.Recover(chain)

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
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
