// Package main — cmd/siemstream/main.go
//
// siemstream agent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/siemstream/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open BoltDB storage.
//  4. Prune stale event rows.
//  5. Start Prometheus metrics server (127.0.0.1:9091).
//  6. Start the file tailer and push endpoint (C3).
//  7. Start the detector runtime (C4/C5).
//  8. Start the reporter socket (C7), if enabled.
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. In-flight DB writes complete; pending unwritten alerts are dropped
//     (acceptable — they re-fire next run).
//  3. Close BoltDB.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/octoreflex/siemstream/internal/alertsink"
	"github.com/octoreflex/siemstream/internal/config"
	"github.com/octoreflex/siemstream/internal/detect"
	"github.com/octoreflex/siemstream/internal/detectrun"
	"github.com/octoreflex/siemstream/internal/ingest"
	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/normalize"
	"github.com/octoreflex/siemstream/internal/observability"
	"github.com/octoreflex/siemstream/internal/reporter"
	"github.com/octoreflex/siemstream/internal/storage"
	"github.com/octoreflex/siemstream/internal/whitelist"
)

func main() {
	configPath := flag.String("config", "/etc/siemstream/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("siemstream %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("siemstream starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	pruned, err := db.PruneOldEvents()
	if err != nil {
		log.Warn("event pruning failed", zap.Error(err))
	} else {
		log.Info("old events pruned", zap.Int("deleted", pruned))
	}

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	norm := normalize.New(log)

	tailer := ingest.NewTailer(cfg.Ingest.LogFiles, db, db, norm, metrics, log)
	go func() {
		if err := tailer.Run(ctx); err != nil {
			log.Error("tailer stopped with error", zap.Error(err))
		}
	}()
	log.Info("file tailer started", zap.Strings("paths", cfg.Ingest.LogFiles))

	push := ingest.NewPushServer(cfg.Ingest.PushAddr, db, norm, metrics, log)
	go func() {
		if err := push.ListenAndServe(); err != nil {
			log.Error("push server error", zap.Error(err))
		}
	}()
	log.Info("push endpoint started", zap.String("addr", cfg.Ingest.PushAddr))

	whitelistSet := whitelist.New(cfg.Detect.WhitelistCIDRs)
	detectors := detect.All(detect.Deps{Whitelist: whitelistSet, KnownAdmins: cfg.Detect.KnownAdmins})
	sink := alertsink.NewSink(db, alertsink.DefaultBatchSize, metrics, log)
	runtime := detectrun.New(storeAdapter{db}, sink, metrics, log)
	schedules := detectrun.Schedules(detectors, cfg.Detect.ScanInterval, cfg.Detect.SlowScanInterval)
	go runtime.Run(ctx, schedules)
	log.Info("detector runtime started", zap.Int("detectors", len(detectors)))

	if cfg.Reporter.Enabled {
		rep := reporter.NewServer(cfg.Reporter.SocketPath, db, cfg.Reporter.RecentLimit, log)
		go func() {
			if err := rep.ListenAndServe(ctx); err != nil {
				log.Error("reporter server error", zap.Error(err))
			}
		}()
		log.Info("reporter socket started", zap.String("path", cfg.Reporter.SocketPath))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = push.Shutdown(shutdownCtx)

	log.Info("siemstream shutdown complete")
}

// storeAdapter narrows storage.DB's Read signature to detectrun.EventStore's,
// keeping detectrun decoupled from the bbolt-specific storage.Filter type.
type storeAdapter struct{ db *storage.DB }

func (s storeAdapter) Read(filter detectrun.EventFilter) ([]model.Event, error) {
	order := storage.OrderAsc
	return s.db.Read(storage.Filter{Since: filter.Since, Category: filter.Category, Limit: filter.Limit, Order: order})
}

func (s storeAdapter) PutCursorTime(name string, t time.Time) error {
	return s.db.PutCursorTime(name, t)
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
