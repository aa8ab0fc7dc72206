// Package pipeline turns a feature vector into a recorded fraud decision.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/aura/internal/domain"
	"github.com/opensource-finance/aura/internal/explain"
	"github.com/opensource-finance/aura/internal/metrics"
)

var tracer = otel.Tracer("aura-pipeline")

// DefaultThreshold is the classification threshold used when none is configured.
const DefaultThreshold = 0.5

// Rules evaluates the deterministic checks.
type Rules interface {
	Evaluate(features map[string]float64, t *domain.Thresholds) (string, bool)
}

// Thresholds supplies the current rule threshold snapshot.
type Thresholds interface {
	Load() *domain.Thresholds
}

// Scorer returns a fraud probability for a feature vector.
type Scorer interface {
	Score(ctx context.Context, fv domain.FeatureVector) (float64, error)
}

// Explainer describes why a transaction was flagged.
type Explainer interface {
	Explain(ctx context.Context, score float64, fv domain.FeatureVector) (string, error)
}

// Pipeline runs the rule engine, then the model, and records the outcome.
type Pipeline struct {
	rules      Rules
	thresholds Thresholds
	scorer     Scorer
	explainer  Explainer
	store      domain.PredictionStore
	bus        domain.EventBus
	metrics    *metrics.Metrics
	logger     *slog.Logger
	threshold  float64
}

// Config holds the collaborators of a Pipeline. Explainer, Bus and Metrics
// are optional.
type Config struct {
	Rules      Rules
	Thresholds Thresholds
	Scorer     Scorer
	Explainer  Explainer
	Store      domain.PredictionStore
	Bus        domain.EventBus
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// ClassificationThreshold is fixed for the lifetime of the pipeline.
	ClassificationThreshold float64
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Rules == nil || cfg.Thresholds == nil || cfg.Scorer == nil || cfg.Store == nil {
		return nil, errors.New("pipeline requires rules, thresholds, scorer and store")
	}

	threshold := cfg.ClassificationThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		rules:      cfg.Rules,
		thresholds: cfg.Thresholds,
		scorer:     cfg.Scorer,
		explainer:  cfg.Explainer,
		store:      cfg.Store,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "pipeline"),
		threshold:  threshold,
	}, nil
}

// Threshold returns the classification threshold.
func (p *Pipeline) Threshold() float64 {
	return p.threshold
}

// Decide validates raw and runs it through the pipeline.
func (p *Pipeline) Decide(ctx context.Context, raw map[string]any) (*domain.Decision, error) {
	fv, err := domain.ParseFeatureVector(raw)
	if err != nil {
		return nil, err
	}
	return p.DecideVector(ctx, fv)
}

// DecideVector produces and persists a decision for fv. The decision is
// only returned once it has been stored.
func (p *Pipeline) DecideVector(ctx context.Context, fv domain.FeatureVector) (*domain.Decision, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.decide",
		trace.WithAttributes(attribute.Float64("transaction.amount", fv.Amount)),
	)
	defer span.End()

	d, err := p.decide(ctx, fv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("decision.id", d.ID),
		attribute.String("decision.source", string(d.Source)),
		attribute.Bool("decision.fraud", d.IsFraud),
		attribute.Float64("decision.score", d.Score),
	)

	if err := p.store.SaveDecision(ctx, d); err != nil {
		p.logger.Error("failed to persist decision",
			"prediction_id", d.ID,
			"source", d.Source,
			"stage", "persist",
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistFailed, err)
	}

	p.publish(ctx, d)

	elapsed := time.Since(start)
	p.metrics.ObserveDecision(string(d.Source), d.IsFraud, elapsed)

	p.logger.Info("decision recorded",
		"prediction_id", d.ID,
		"source", d.Source,
		"is_fraud", d.IsFraud,
		"score", d.Score,
		"duration_ms", elapsed.Milliseconds(),
	)

	return d, nil
}

func (p *Pipeline) decide(ctx context.Context, fv domain.FeatureVector) (*domain.Decision, error) {
	if reason, fired := p.rules.Evaluate(fv.Map(), p.thresholds.Load()); fired {
		p.logger.Debug("rule fired", "reason", reason)
		return domain.NewRuleDecision(reason, fv), nil
	}

	scoreStart := time.Now()
	score, err := p.scorer.Score(ctx, fv)
	p.metrics.ObserveScoring(err, time.Since(scoreStart))
	if err != nil {
		p.logger.Error("scoring failed", "stage", "score", "error", err)
		return nil, err
	}

	isFraud := score > p.threshold
	var explanation string
	if isFraud {
		explanation = p.explain(ctx, score, fv)
	} else {
		explanation = fmt.Sprintf("Model score %.2f does not exceed the fraud threshold %.2f.", score, p.threshold)
	}

	return domain.NewModelDecision(score, isFraud, explanation, fv), nil
}

func (p *Pipeline) explain(ctx context.Context, score float64, fv domain.FeatureVector) string {
	if p.explainer == nil {
		return explain.Placeholder
	}

	text, err := p.explainer.Explain(ctx, score, fv)
	p.metrics.ObserveExplanation(err)
	if err != nil {
		p.logger.Warn("explanation degraded",
			"stage", "explain",
			"score", score,
			"error", err,
		)
		return explain.Placeholder
	}
	return text
}

// publish is best-effort; a bus outage never fails a recorded decision.
func (p *Pipeline) publish(ctx context.Context, d *domain.Decision) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.DecisionEvent{
		PredictionID: d.PublicID(),
		Source:       d.Source,
		IsFraud:      d.IsFraud,
		Score:        d.Score,
		Explanation:  d.Explanation,
	})
	if err != nil {
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		p.logger.Warn("failed to publish decision", "prediction_id", d.ID, "error", err)
	}
	if d.IsFraud {
		if err := p.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			p.logger.Warn("failed to publish alert", "prediction_id", d.ID, "error", err)
		}
	}
}
