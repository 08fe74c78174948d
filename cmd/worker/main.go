package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/backupd/internal/activity"
	"github.com/edvin/backupd/internal/adapter"
	"github.com/edvin/backupd/internal/config"
	"github.com/edvin/backupd/internal/core"
	"github.com/edvin/backupd/internal/crypto"
	"github.com/edvin/backupd/internal/db"
	"github.com/edvin/backupd/internal/dispatch"
	"github.com/edvin/backupd/internal/logging"
	"github.com/edvin/backupd/internal/metrics"
	"github.com/edvin/backupd/internal/notify"
	"github.com/edvin/backupd/internal/task"
	"github.com/edvin/backupd/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MigrationsDir != "" {
		if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	broker, err := notify.NewNATSBroker(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer broker.Close()
	if err := broker.EnsureStream(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure reload stream")
	}

	tc, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	vault := crypto.NewVault(cfg.SecretKey)
	registry := adapter.DefaultRegistry(logger)
	services := core.NewServices(pool, vault, broker, registry)
	executor := task.NewExecutor(logger, services.Source, services.Destination, registry)

	w := worker.New(tc, workflow.TaskQueue, worker.Options{})
	w.RegisterActivity(activity.NewBackup(executor))
	w.RegisterWorkflow(workflow.CreateBackupWorkflow)
	w.RegisterWorkflow(workflow.ListBackupsWorkflow)
	w.RegisterWorkflow(workflow.DeleteBackupWorkflow)
	w.RegisterWorkflow(workflow.RestoreBackupWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", workflow.TaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	dispatcher := dispatch.New(logger, services.Schedule, broker, dispatch.NewTemporalInvoker(tc))
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			logger.Fatal().Err(err).Msg("dispatcher failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}
