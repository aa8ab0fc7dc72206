// Package feedback records analyst corrections against stored decisions.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
	"github.com/opensource-finance/aura/internal/metrics"
)

// Outcome labels for feedback metrics.
const (
	OutcomeAccepted    = "accepted"
	OutcomeInvalid     = "invalid"
	OutcomeNotFound    = "not_found"
	OutcomeNotEligible = "not_eligible"
	OutcomeError       = "error"
)

// Recorder validates feedback and merges it into the prediction store.
type Recorder struct {
	store   domain.PredictionStore
	bus     domain.EventBus
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. bus and m may be nil.
func NewRecorder(store domain.PredictionStore, bus domain.EventBus, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		bus:     bus,
		metrics: m,
		logger:  logger.With("component", "feedback"),
	}
}

// Submit attaches label to the decision id. Resubmitting overwrites the
// previous label.
func (r *Recorder) Submit(ctx context.Context, id string, label int) error {
	if id == "" {
		r.metrics.ObserveFeedback(OutcomeInvalid)
		return fmt.Errorf("%w: prediction_id is required", domain.ErrInvalidInput)
	}
	if label != 0 && label != 1 {
		r.metrics.ObserveFeedback(OutcomeInvalid)
		return fmt.Errorf("%w: got %d", domain.ErrInvalidLabel, label)
	}

	if err := r.store.MergeFeedback(ctx, id, label); err != nil {
		outcome := classify(err)
		r.metrics.ObserveFeedback(outcome)
		if outcome == OutcomeError {
			r.logger.Error("failed to record feedback", "prediction_id", id, "error", err)
		} else {
			r.logger.Info("feedback rejected", "prediction_id", id, "reason", outcome)
		}
		return err
	}

	r.metrics.ObserveFeedback(OutcomeAccepted)
	r.logger.Info("feedback recorded", "prediction_id", id, "correct_label", label)
	r.publish(ctx, id, label)
	return nil
}

func (r *Recorder) publish(ctx context.Context, id string, label int) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.FeedbackEvent{
		PredictionID: id,
		Label:        label,
		Timestamp:    time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, domain.TopicFeedback, payload); err != nil {
		r.logger.Warn("failed to publish feedback", "prediction_id", id, "error", err)
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrNotEligible):
		return OutcomeNotEligible
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidLabel):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}
