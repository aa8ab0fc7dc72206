package retrain

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/aura/internal/bus"
	"github.com/opensource-finance/aura/internal/domain"
)

// Runner starts retraining runs.
type Runner interface {
	Run(ctx context.Context) (*domain.RetrainRun, error)
	Trigger() (string, error)
}

// TriggerReply answers a retrain request sent with a reply subject.
type TriggerReply struct {
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// Scheduler starts runs on a fixed interval and on request messages.
type Scheduler struct {
	runner   Runner
	bus      domain.EventBus
	interval time.Duration
	logger   *slog.Logger

	sub    domain.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. An interval of zero disables the timer;
// a nil bus disables request messages.
func NewScheduler(runner Runner, eventBus domain.EventBus, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		bus:      eventBus,
		interval: interval,
		logger:   logger.With("component", "retrain-scheduler"),
	}
}

// Start begins scheduling.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.bus != nil {
		sub, err := s.bus.Subscribe(s.ctx, domain.TopicRetrainRequested, s.handleRequest)
		if err != nil {
			s.cancel()
			return err
		}
		s.sub = sub
	}

	if s.interval > 0 {
		s.wg.Add(1)
		go s.loop()
	}

	s.logger.Info("retrain scheduler started", "interval", s.interval.String(), "on_request", s.bus != nil)
	return nil
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_, err := s.runner.Run(s.ctx)
			if errors.Is(err, domain.ErrRunInProgress) {
				s.logger.Info("scheduled run skipped, another run is in progress")
			}
		}
	}
}

func (s *Scheduler) handleRequest(ctx context.Context, msg *domain.Message) error {
	runID, err := s.runner.Trigger()

	reply := TriggerReply{RunID: runID}
	if err != nil {
		reply.Error = err.Error()
		s.logger.Info("retrain request not started", "message_id", msg.ID, "error", err)
	} else {
		s.logger.Info("retrain requested", "message_id", msg.ID, "run_id", runID)
	}

	if payload, mErr := json.Marshal(reply); mErr == nil {
		if rErr := bus.Reply(ctx, s.bus, msg, payload); rErr != nil {
			s.logger.Warn("failed to reply to retrain request", "message_id", msg.ID, "error", rErr)
		}
	}

	if errors.Is(err, domain.ErrRunInProgress) {
		return nil
	}
	return err
}

// Stop halts scheduling and waits for a scheduled run to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Error("failed to unsubscribe", "topic", s.sub.Topic(), "error", err)
		}
		s.sub = nil
	}
	s.wg.Wait()
	s.logger.Info("retrain scheduler stopped")
}
