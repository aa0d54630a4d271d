package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/felo/mail-indexer/internal/config"
	"github.com/felo/mail-indexer/internal/content"
	"github.com/felo/mail-indexer/internal/db"
	"github.com/felo/mail-indexer/internal/indexer"
	"github.com/felo/mail-indexer/internal/logger"
	"github.com/felo/mail-indexer/internal/metrics"
	"github.com/felo/mail-indexer/internal/scoring"
	"github.com/felo/mail-indexer/internal/source"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML configuration file")
	storePath := flag.String("store", "", "mail store to index (overrides store_path)")
	dbPath := flag.String("db", "", "index database (overrides db_path)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	zlog, err := logger.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		if errors.Is(err, context.Canceled) {
			zlog.Warn("Indexing interrupted")
			zlog.Sync()
			os.Exit(130)
		}
		zlog.Error("Indexing failed", zap.Error(err))
		zlog.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, zlog *zap.Logger) error {
	// Open database
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	zlog.Info("Database opened", zap.String("path", cfg.DBPath))

	store, err := source.Open(cfg.StorePath, source.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		Logger:          zlog,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	idx := indexer.NewIndexer(
		database,
		content.NewNormalizer(cfg.Locator.Scope),
		scoring.NewTokenizer(cfg.Tokenizer.FilterStopwords, cfg.Tokenizer.Stopwords),
		zlog,
	).
		WithConcurrency(cfg.Workers).
		WithReadAhead(cfg.ReadAhead).
		WithMetrics(metrics.New(reg))

	report, runErr := idx.Run(ctx, store)
	if report != nil {
		zlog.Info("Indexing summary",
			zap.String("run_id", report.RunID),
			zap.String("records", humanize.Comma(int64(report.Total()))),
			zap.String("read", humanize.Bytes(uint64(store.TotalBytes()))),
			zap.Int("admitted", report.Admitted),
			zap.Int("skipped", report.Skipped),
			zap.Int("rejected", report.Rejected),
			zap.Int("unreadable", report.Unreadable),
		)
		for _, o := range report.UnreadableRecords() {
			zlog.Debug("Unreadable record", zap.String("location", o.Location), zap.Error(o.Err))
		}
	}

	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, reg); err != nil {
			zlog.Warn("Failed to write metrics", zap.String("path", cfg.MetricsFile), zap.Error(err))
		}
	}
	return runErr
}
