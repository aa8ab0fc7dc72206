package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/aura/internal/api"
	"github.com/opensource-finance/aura/internal/domain"
	"github.com/opensource-finance/aura/internal/retrain"
	"github.com/opensource-finance/aura/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the decision API, async worker and retraining scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger.Info("starting aura",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	logger.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"objectstore", cfg.ObjectStore.Type,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Async worker (Pro tier or AURA_ASYNC_WORKER)
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(a.bus, a.pipeline, logger)
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("start async worker: %w", err)
		}
		logger.Info("async worker started", "topic", domain.TopicTransactionIngested)
	}

	scheduler := retrain.NewScheduler(a.retrain, a.bus, cfg.Retrain.Interval, logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start retrain scheduler: %w", err)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Pipeline:   a.pipeline,
		Feedback:   a.feedback,
		Retrainer:  a.retrain,
		Thresholds: a.thresholds,
		Endpoints:  a.scorer,
		Repo:       a.repo,
		Cache:      a.cache,
		Bus:        a.bus,
		Metrics:    a.metrics,
		Version:    Version,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		scheduler.Stop()
		if asyncWorker != nil {
			if err := asyncWorker.Stop(); err != nil {
				logger.Error("failed to stop async worker", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	logger.Info("aura is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	err = g.Wait()
	logger.Info("aura shutdown complete")
	return err
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  AURA - fraud decisions with a feedback loop")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict             - Decide a transaction")
	fmt.Println("    GET  /predictions/{id}    - Get a stored decision")
	fmt.Println("    POST /feedback            - Submit the correct label")
	fmt.Println("    POST /retrain             - Start a retraining run")
	fmt.Println("    POST /export              - Export and retrain, waiting for the result")
	fmt.Println("    GET  /retrain/runs        - List retraining runs")
	fmt.Println("    GET  /models/live         - Live model and endpoint")
	fmt.Println("    GET  /thresholds          - Current rule thresholds")
	fmt.Println("    POST /thresholds/reload   - Recompute rule thresholds")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println("    GET  /metrics             - Prometheus metrics")
	fmt.Println()
}
