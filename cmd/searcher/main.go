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

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/session"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/redis"
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
	slog.Info("starting search service", "port", cfg.Server.Port, "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, nil)
		if err := metricsServer.Start(); err != nil {
			slog.Warn("metrics endpoint disabled", "error", err)
		} else {
			defer metricsServer.Shutdown(context.Background())
		}
	}

	src, err := source.FromConfig(cfg.Source, m)
	if err != nil {
		slog.Error("failed to create source", "error", err)
		os.Exit(1)
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Warn("record store unavailable, records will not be persisted", "error", err)
		st = nil
	}
	if st != nil {
		defer st.Close()
	}

	opts := session.OptionsFromConfig(cfg)
	mgr := session.NewManager(func(ctx context.Context) (*session.Session, session.Report, error) {
		return session.Run(ctx, opts, src, st, m)
	}, m)

	var collector *events.Collector
	if len(cfg.Kafka.Brokers) > 0 {
		buildProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt)
		defer buildProducer.Close()
		searchProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer searchProducer.Close()
		collector = events.NewCollector(events.Router{
			events.TypeIndexBuilt: buildProducer,
			"":                    searchProducer,
		}, 10000)
		collector.Start(ctx)
		defer collector.Close()

		reindexConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ReindexRequests, events.ReindexHandler(mgr))
		go func() {
			if err := reindexConsumer.Start(ctx); err != nil {
				slog.Error("reindex consumer error", "error", err)
			}
		}()
		slog.Info("kafka wiring enabled",
			"brokers", cfg.Kafka.Brokers,
			"reindex_topic", cfg.Kafka.Topics.ReindexRequests,
		)
	} else {
		slog.Info("no kafka brokers configured, events disabled")
	}
	recorder := events.NewRecorder(collector, events.NewAggregator())
	mgr.OnSwap(recorder.IndexBuilt)

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Search.CacheEnabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	restored := false
	if cfg.Store.Restore && st != nil {
		s, report, err := session.Restore(ctx, opts, st, m)
		switch {
		case err != nil:
			slog.Warn("restoring from store failed, rebuilding from source", "error", err)
		case s != nil:
			mgr.Install(ctx, s, report)
			restored = true
		}
	}
	if !restored {
		go func() {
			if _, _, err := mgr.Rebuild(ctx); err != nil {
				slog.Error("initial build failed", "error", err)
			}
		}()
	}

	checker := health.NewChecker()
	checker.Register("index", health.GateCheck(func() (bool, string) {
		current := mgr.Current()
		if current == nil {
			return false, "index not built"
		}
		return true, fmt.Sprintf("%d records", current.Len())
	}))
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient.Ping, true))
	}

	h := handler.New(mgr, queryCache, recorder, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults)

	mux := http.NewServeMux()
	h.Register(mux)
	checker.Mount(mux)

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.Server.RateLimit, time.Minute))(chain)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))(chain)
	}
	chain = middleware.Metrics(m)(chain)
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
