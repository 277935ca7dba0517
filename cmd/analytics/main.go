// Command analytics aggregates search events published by searchers.
//
// It consumes the search-events topic, keeps query statistics in memory and
// serves them at GET /api/v1/analytics. When analytics.snapshotInterval is
// set, the aggregate is also written to Postgres periodically and served at
// GET /api/v1/analytics/history.
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

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	if !cfg.Kafka.Enabled {
		slog.Error("analytics service needs kafka.enabled")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator(cfg.Analytics.TopN)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, aggregator.HandleMessage)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			slog.Error("search event consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.SearchEvents)

	checker := health.NewChecker()

	var snapshots *analytics.SnapshotStore
	if cfg.Analytics.SnapshotInterval > 0 {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		snapshots, err = analytics.NewSnapshotStore(ctx, db, cfg.Analytics.SnapshotTable)
		if err != nil {
			slog.Error("failed to prepare snapshot table", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", false, db.Ping)
		go snapshots.RunPeriodic(ctx, aggregator, cfg.Analytics.SnapshotInterval)
	}

	// A nil *SnapshotStore must not reach NewHandler as a non-nil interface.
	var h *analytics.Handler
	if snapshots != nil {
		h = analytics.NewHandler(aggregator, snapshots)
	} else {
		h = analytics.NewHandler(aggregator, nil)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", h.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	chain = middleware.RequestID(chain)

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
