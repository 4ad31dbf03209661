package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/session"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
)

type output struct {
	Session session.Info           `json:"session"`
	Report  session.Report         `json:"report"`
	Search  *executor.SearchResult `json:"search,omitempty"`
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	dir := flag.String("dir", "", "index a local directory instead of the configured source")
	query := flag.String("q", "", "query to run against the built index")
	limit := flag.Int("limit", 0, "maximum results for -q (default search.defaultLimit)")
	notify := flag.Bool("notify", false, "publish a reindex request to kafka after saving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dir != "" {
		cfg.Source.Dir = *dir
	}
	if *limit <= 0 {
		*limit = cfg.Search.DefaultLimit
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer", "source_dir", cfg.Source.Dir, "base_url", cfg.Source.BaseURL, "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
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

	s, report, err := session.Run(ctx, session.OptionsFromConfig(cfg), src, st, m)
	if err != nil {
		slog.Error("indexing failed", "error", err)
		os.Exit(1)
	}

	out := output{Session: s.Info(), Report: report}
	if *query != "" {
		out.Search, err = s.Search(ctx, *query, *limit)
		if err != nil {
			slog.Error("search failed", "query", *query, "error", err)
			os.Exit(1)
		}
	}

	if *notify {
		if len(cfg.Kafka.Brokers) == 0 {
			slog.Warn("no kafka brokers configured, skipping reindex notification")
		} else {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ReindexRequests)
			if err := events.RequestReindex(ctx, producer, "records saved", "indexer"); err != nil {
				slog.Error("reindex notification failed", "error", err)
			}
			producer.Close()
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("failed to write report", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer finished", "indexed", report.Indexed, "failed", len(report.Failures), "saved", report.Saved)
}
