package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/air-quality-etl/internal/adapter/alertfile"
	httpadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/opendata"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/postgres"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/snapshot"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
	"github.com/couchcryptid/air-quality-etl/internal/scheduler"
)

type store interface {
	pipeline.Store
	pipeline.TableEnsurer
	Close() error
}

func main() {
	os.Exit(run())
}

// run wires the service and returns the process exit code.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		return 1
	}
	// The loader creates the table once the store is reachable, so an
	// unreachable store is reported by each load rather than here.
	defer db.Close() //nolint:errcheck // process is exiting

	stages := pipeline.Stages{
		Fetcher:   opendata.NewClient(cfg.SourceURL, cfg.SourceTimeout, logger),
		Snapshots: snapshot.NewWriter(cfg.SnapshotDir, cfg.SnapshotPrefix, logger),
		Alerts:    alertfile.NewWriter(cfg.AlertFile, cfg.AlertClearStale, logger),
		Loader:    pipeline.NewIncrementalLoader(db, logger),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafkaadapter.NewAlertPublisher(cfg, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		stages.Publisher = publisher
		logger.Info("alert publishing enabled", "topic", cfg.KafkaAlertTopic)
	} else {
		logger.Info("alert publishing disabled")
	}

	p := pipeline.New(stages, pipeline.RulesFromConfig(cfg), logger, metrics)

	if !cfg.Scheduled() {
		if _, err := p.Run(ctx); err != nil {
			logger.Error("run failed", "error", err)
			return 1
		}
		return 0
	}

	if err := serve(ctx, cfg, p, logger); err != nil {
		logger.Error("scheduler error", "error", err)
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, cfg.StoreTable, logger)
	case config.DriverSQLite:
		return sqlite.Open(cfg.SQLitePath, cfg.StoreTable, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// serve runs the pipeline on cfg.Schedule with the HTTP server alongside,
// until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger) error {
	sched, err := scheduler.New(cfg.Schedule, func(ctx context.Context) {
		if _, err := p.Run(ctx); err != nil {
			logger.Error("run failed", "error", err)
		}
	}, logger)
	if err != nil {
		return err
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, sched.Trigger, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	sched.Start(ctx, true)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
