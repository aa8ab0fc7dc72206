package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/aura/internal/bus"
	"github.com/opensource-finance/aura/internal/domain"
	"github.com/opensource-finance/aura/internal/metrics"
	"github.com/opensource-finance/aura/internal/repository"
)

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "feedback-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSubmit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	recorder := NewRecorder(repo, nil, metrics.New(), nil)

	model := domain.NewModelDecision(0.82, true, "explained", domain.FeatureVector{Amount: 10})
	rule := domain.NewRuleDecision("Transaction amount exceeds the limit.", domain.FeatureVector{Amount: 30000})
	for _, d := range []*domain.Decision{model, rule} {
		if err := repo.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		id    string
		label int
		want  error
	}{
		{"accepted", model.ID, 0, nil},
		{"empty id", "", 1, domain.ErrInvalidInput},
		{"label out of range", model.ID, 2, domain.ErrInvalidLabel},
		{"negative label", model.ID, -1, domain.ErrInvalidLabel},
		{"unknown id", "does-not-exist", 1, domain.ErrNotFound},
		{"sentinel", domain.SentinelID, 1, domain.ErrNotEligible},
		{"rule-based key", rule.ID, 1, domain.ErrNotEligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := recorder.Submit(ctx, tt.id, tt.label)
			if tt.want == nil {
				if err != nil {
					t.Errorf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	got, err := repo.GetDecision(ctx, model.ID)
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if got.Feedback.Status != domain.FeedbackVerified || got.Feedback.Label == nil || *got.Feedback.Label != 0 {
		t.Errorf("invalid submissions must not change the accepted label, got %+v", got.Feedback)
	}

	stored, _ := repo.GetDecision(ctx, rule.ID)
	if stored.Feedback.Status != domain.FeedbackUnverified || stored.Feedback.Label != nil {
		t.Errorf("rule-based decision must stay unverified, got %+v", stored.Feedback)
	}
}

func TestResubmissionLastWriteWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	recorder := NewRecorder(repo, nil, nil, nil)

	d := domain.NewModelDecision(0.3, false, "", domain.FeatureVector{Amount: 5})
	if err := repo.SaveDecision(ctx, d); err != nil {
		t.Fatalf("SaveDecision failed: %v", err)
	}

	for _, label := range []int{1, 0, 1} {
		if err := recorder.Submit(ctx, d.ID, label); err != nil {
			t.Fatalf("Submit(%d) failed: %v", label, err)
		}
	}

	got, _ := repo.GetDecision(ctx, d.ID)
	if got.Feedback.Label == nil || *got.Feedback.Label != 1 {
		t.Errorf("expected final label 1, got %+v", got.Feedback.Label)
	}
}

func TestSubmitPublishes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	events := make(chan domain.FeedbackEvent, 1)
	if _, err := eventBus.Subscribe(ctx, domain.TopicFeedback, func(_ context.Context, m *domain.Message) error {
		var ev domain.FeedbackEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return err
		}
		events <- ev
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	d := domain.NewModelDecision(0.7, true, "", domain.FeatureVector{Amount: 5})
	repo.SaveDecision(ctx, d)

	recorder := NewRecorder(repo, eventBus, nil, nil)
	if err := recorder.Submit(ctx, d.ID, 1); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.PredictionID != d.ID || ev.Label != 1 {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no feedback event published")
	}
}
