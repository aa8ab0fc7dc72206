// Package worker decides transactions published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/aura/internal/bus"
	"github.com/opensource-finance/aura/internal/domain"
)

// Decider runs the decision pipeline.
type Decider interface {
	Decide(ctx context.Context, raw map[string]any) (*domain.Decision, error)
}

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus     domain.EventBus
	decider Decider
	logger  *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// TransactionMessage is the payload published on TopicTransactionIngested.
type TransactionMessage struct {
	CorrelationID string         `json:"correlation_id,omitempty"`
	Features      map[string]any `json:"features"`
}

// Result answers a transaction sent with a reply subject.
type Result struct {
	Decision *domain.DecisionEvent `json:"decision,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, decider Decider, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     eventBus,
		decider: decider,
		logger:  logger.With("component", "worker"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to ingested transactions.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// handleMessage decides one transaction. Decision and alert events are
// published by the pipeline; a requester additionally gets a direct reply.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		w.logger.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		w.reply(ctx, msg, Result{Error: err.Error()})
		return err
	}

	correlationID := txMsg.CorrelationID
	if correlationID == "" {
		correlationID = msg.ID
	}

	d, err := w.decider.Decide(ctx, txMsg.Features)
	if err != nil {
		w.logger.Error("transaction decision failed",
			"correlation_id", correlationID,
			"error", err,
		)
		w.reply(ctx, msg, Result{Error: err.Error()})
		return err
	}

	w.reply(ctx, msg, Result{Decision: &domain.DecisionEvent{
		PredictionID:  d.PublicID(),
		Source:        d.Source,
		IsFraud:       d.IsFraud,
		Score:         d.Score,
		Explanation:   d.Explanation,
		CorrelationID: correlationID,
	}})

	w.logger.Info("transaction processed",
		"correlation_id", correlationID,
		"prediction_id", d.ID,
		"is_fraud", d.IsFraud,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, res Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		w.logger.Warn("failed to reply", "message_id", msg.ID, "error", err)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
