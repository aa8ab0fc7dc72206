package retrain

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/aura/internal/bus"
	"github.com/opensource-finance/aura/internal/domain"
)

type countingRunner struct {
	runs     atomic.Int32
	triggers atomic.Int32
	busy     bool
}

func (r *countingRunner) Run(context.Context) (*domain.RetrainRun, error) {
	r.runs.Add(1)
	return &domain.RetrainRun{ID: "scheduled", State: domain.StateNoData}, nil
}

func (r *countingRunner) Trigger() (string, error) {
	r.triggers.Add(1)
	if r.busy {
		return "", domain.ErrRunInProgress
	}
	return "run-123", nil
}

func TestSchedulerInterval(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, 5*time.Millisecond, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runner.runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if runner.runs.Load() < 2 {
		t.Errorf("expected at least 2 scheduled runs, got %d", runner.runs.Load())
	}

	after := runner.runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runner.runs.Load() != after {
		t.Error("no runs may start after Stop")
	}
}

func TestSchedulerDisabledInterval(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, 0, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if runner.runs.Load() != 0 {
		t.Errorf("expected no runs with interval 0, got %d", runner.runs.Load())
	}
}

func TestSchedulerOnRequest(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	tests := []struct {
		name  string
		busy  bool
		runID string
		err   bool
	}{
		{"started", false, "run-123", false},
		{"busy", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &countingRunner{busy: tt.busy}
			s := NewScheduler(runner, eventBus, 0, nil)
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer s.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			data, err := eventBus.Request(ctx, domain.TopicRetrainRequested, []byte(`{}`))
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}

			var reply TriggerReply
			if err := json.Unmarshal(data, &reply); err != nil {
				t.Fatalf("invalid reply: %v", err)
			}
			if reply.RunID != tt.runID {
				t.Errorf("expected run id %q, got %q", tt.runID, reply.RunID)
			}
			if (reply.Error != "") != tt.err {
				t.Errorf("unexpected error field %q", reply.Error)
			}
			if runner.triggers.Load() != 1 {
				t.Errorf("expected one trigger, got %d", runner.triggers.Load())
			}
		})
	}
}
