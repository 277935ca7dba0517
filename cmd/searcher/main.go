// Command searcher serves documentation search over HTTP.
//
// Shards are loaded lazily from the configured store the first time a query
// needs them. When Kafka is enabled the service publishes search events and
// drops shards from its registry whenever a rebuilt index is announced.
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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/reload"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "store", cfg.Index.Store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open shard store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	bucketer := keyspace.Bucketer{PrefixLen: cfg.Index.PrefixLen, Buckets: cfg.Index.Buckets}
	reg, err := registry.New(st, bucketer, registry.Options{
		LoadTimeout: cfg.Index.LoadTimeout,
		Metrics:     m,
	})
	if err != nil {
		slog.Error("invalid bucketing configuration", "error", err)
		os.Exit(1)
	}
	res := resolver.New(reg, resolver.Options{
		MaxQueryLength:     cfg.Search.MaxQueryLength,
		MaxResults:         cfg.Search.MaxResults,
		MaxConcurrentLoads: cfg.Index.MaxConcurrentLoads,
		Metrics:            m,
	})
	slog.Info("query resolver ready", "scheme", bucketer.Scheme())

	aggregator := analytics.NewAggregator(cfg.Analytics.TopN)
	trackers := analytics.Trackers{aggregator}
	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		collector = analytics.NewCollector(producer,
			cfg.Analytics.BufferSize,
			cfg.Analytics.BatchSize,
			cfg.Analytics.FlushInterval,
		)
		collector.Start(ctx)
		defer collector.Close()
		trackers = append(trackers, collector)
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.SearchEvents)

		listener := reload.NewListener(reg, bucketer.Scheme())
		go func() {
			if err := listener.Run(ctx, cfg.Kafka); err != nil {
				slog.Error("reload listener error", "error", err)
			}
		}()
		slog.Info("reload listener started", "topic", cfg.Kafka.Topics.IndexPublished)
	} else {
		slog.Info("kafka disabled, search events stay local and reloads are manual")
	}

	checker := health.NewChecker()
	checker.Register("manifest", true, func(ctx context.Context) error {
		_, err := reg.Manifest(ctx)
		return err
	})
	if p, ok := st.(pinger); ok {
		checker.Register(cfg.Index.Store, true, p.Ping)
	}
	if collector != nil {
		checker.Register("analytics", false, func(ctx context.Context) error {
			if n := collector.Dropped(); n > 0 {
				return fmt.Errorf("%d search events dropped", n)
			}
			return nil
		})
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, promReg)
	}

	h := handler.New(res, reg, trackers)
	analyticsH := analytics.NewHandler(aggregator, nil)

	mux := http.NewServeMux()
	h.Register(mux, middleware.AdminToken(cfg.Server.AdminToken))
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		go pruneLoop(ctx, limiter)
	}

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
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

func pruneLoop(ctx context.Context, l *middleware.Limiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Prune()
		case <-ctx.Done():
			return
		}
	}
}
