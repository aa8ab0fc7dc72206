package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/aura/internal/bus"
	"github.com/opensource-finance/aura/internal/cache"
	"github.com/opensource-finance/aura/internal/domain"
	"github.com/opensource-finance/aura/internal/explain"
	"github.com/opensource-finance/aura/internal/feedback"
	"github.com/opensource-finance/aura/internal/metrics"
	"github.com/opensource-finance/aura/internal/modelops"
	"github.com/opensource-finance/aura/internal/objectstore"
	"github.com/opensource-finance/aura/internal/pipeline"
	"github.com/opensource-finance/aura/internal/repository"
	"github.com/opensource-finance/aura/internal/retrain"
	"github.com/opensource-finance/aura/internal/rules"
	"github.com/opensource-finance/aura/internal/scoring"
)

// app holds the wired components shared by the serve and retrain commands.
type app struct {
	cfg    *domain.Config
	logger *slog.Logger

	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	thresholds *rules.ThresholdHolder
	scorer     *scoring.Client
	metrics    *metrics.Metrics
	pipeline   *pipeline.Pipeline
	feedback   *feedback.Recorder
	retrain    *retrain.Orchestrator

	closers []func() error
}

func newApp(ctx context.Context, cfg *domain.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// Initialize Repository
	sqlRepo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("initialize repository: %w", err)
	}
	a.closers = append(a.closers, sqlRepo.Close)
	logger.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	a.cache, err = cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}
	a.closers = append(a.closers, a.cache.Close)
	a.repo = repository.NewCached(sqlRepo, a.cache, cfg.Cache.DecisionTTL, logger)
	logger.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	a.bus, err = bus.New(cfg.EventBus)
	if err != nil {
		return nil, fmt.Errorf("initialize event bus: %w", err)
	}
	a.closers = append(a.closers, a.bus.Close)
	logger.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule thresholds; the fallbacks stay in place if historical data is unusable
	a.thresholds = rules.NewThresholdHolder(cfg.Rules)
	if t, err := a.thresholds.Reload(); err != nil {
		logger.Warn("using fallback thresholds", "error", err)
	} else {
		logger.Info("thresholds loaded",
			"source", t.Source,
			"v4_upper", t.V4Upper,
			"v14_lower", t.V14Lower,
			"amount_upper", t.AmountUpper,
		)
	}

	engine, err := rules.NewEngine(rules.DefaultChecks()...)
	if err != nil {
		return nil, fmt.Errorf("initialize rule engine: %w", err)
	}
	logger.Info("rule engine initialized", "checks", engine.Checks())

	a.scorer = scoring.NewClient(scoring.Endpoint{
		Name:      cfg.Scoring.EndpointName,
		InvokeURL: cfg.Scoring.InvokeURL,
	}, cfg.Scoring.Timeout)
	a.metrics = metrics.New()

	pcfg := pipeline.Config{
		Rules:                   engine,
		Thresholds:              a.thresholds,
		Scorer:                  a.scorer,
		Store:                   a.repo,
		Bus:                     a.bus,
		Metrics:                 a.metrics,
		Logger:                  logger,
		ClassificationThreshold: cfg.Scoring.ClassificationThreshold,
	}
	if cfg.Explain.Enabled {
		pcfg.Explainer = explain.NewClient(cfg.Explain)
	}
	a.pipeline, err = pipeline.New(pcfg)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline: %w", err)
	}
	logger.Info("pipeline initialized",
		"threshold", a.pipeline.Threshold(),
		"explanations", cfg.Explain.Enabled,
	)

	a.feedback = feedback.NewRecorder(a.repo, a.bus, a.metrics, logger)

	// Retraining
	objects, err := objectstore.New(cfg.ObjectStore, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}
	if err := objects.Init(ctx); err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}
	logger.Info("object store initialized", "type", cfg.ObjectStore.Type)

	ops := modelops.NewClient(cfg.ModelOps, logger)
	a.retrain, err = retrain.New(retrain.Config{
		Store:          a.repo,
		Objects:        objects,
		Trainer:        ops,
		Registry:       ops,
		Endpoints:      a.scorer,
		Bus:            a.bus,
		Metrics:        a.metrics,
		Logger:         logger,
		TrainingPrefix: cfg.ObjectStore.TrainingPrefix,
		OutputPrefix:   cfg.ObjectStore.OutputPrefix,
		Timeout:        cfg.Retrain.Timeout,
		MinRecords:     cfg.Retrain.MinRecords,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize orchestrator: %w", err)
	}
	a.closers = append(a.closers, func() error { a.retrain.Close(); return nil })

	if err := a.retrain.RestoreLive(ctx); err != nil {
		return nil, fmt.Errorf("restore live model: %w", err)
	}
	logger.Info("scoring endpoint ready", "endpoint", a.scorer.Live().Name, "model", a.scorer.Live().ModelName)

	return a, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close component", "error", err)
		}
	}
	a.closers = nil
}
