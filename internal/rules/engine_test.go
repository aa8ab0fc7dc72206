package rules

import (
	"strings"
	"sync"
	"testing"

	"github.com/opensource-finance/aura/internal/domain"
)

func testThresholds() *domain.Thresholds {
	return &domain.Thresholds{V4Upper: 11.0, V14Lower: -13.5, AmountUpper: 25000}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	got := engine.Checks()
	want := []string{"amount_ceiling", "v4_outlier", "v14_outlier"}
	if len(got) != len(want) {
		t.Fatalf("expected %d checks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("check %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestInvalidCheck(t *testing.T) {
	_, err := NewEngine(Check{Name: "bad", Expression: "this is not valid CEL !!!"})
	if err == nil {
		t.Error("expected error for invalid CEL expression")
	}

	_, err = NewEngine(Check{Name: "non-bool", Expression: "amount * 2.0"})
	if err == nil {
		t.Error("expected error for non-bool expression")
	}
}

func TestEvaluate(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	th := testThresholds()

	tests := []struct {
		name     string
		features map[string]float64
		fired    bool
		reason   string
	}{
		{
			name:     "normal transaction",
			features: map[string]float64{"Amount": 120.5, "V4": 1.2, "V14": -0.3},
			fired:    false,
		},
		{
			name:     "amount above ceiling",
			features: map[string]float64{"Amount": 30000, "V4": 0, "V14": 0},
			fired:    true,
			reason:   "Transaction amount of $30,000.00 exceeds the business limit of $25,000.",
		},
		{
			name:     "amount at ceiling does not fire",
			features: map[string]float64{"Amount": 25000},
			fired:    false,
		},
		{
			name:     "V4 outlier",
			features: map[string]float64{"Amount": 10, "V4": 5000},
			fired:    true,
			reason:   "Feature V4 value of 5000.00 is an extreme outlier (limit: 11.00).",
		},
		{
			name:     "V14 outlier",
			features: map[string]float64{"Amount": 10, "V14": -20},
			fired:    true,
			reason:   "Feature V14 value of -20.00 is an extreme outlier (limit: -13.50).",
		},
		{
			name:     "amount checked before V4",
			features: map[string]float64{"Amount": 99999, "V4": 5000, "V14": -20},
			fired:    true,
			reason:   "Transaction amount of $99,999.00 exceeds the business limit of $25,000.",
		},
		{
			name:     "V4 checked before V14",
			features: map[string]float64{"V4": 12, "V14": -20},
			fired:    true,
			reason:   "Feature V4 value of 12.00 is an extreme outlier (limit: 11.00).",
		},
		{
			name:     "absent features read as zero",
			features: map[string]float64{},
			fired:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, fired := engine.Evaluate(tt.features, th)
			if fired != tt.fired {
				t.Fatalf("expected fired=%v, got %v (reason %q)", tt.fired, fired, reason)
			}
			if reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, reason)
			}
		})
	}
}

func TestEvaluateNilThresholds(t *testing.T) {
	engine, _ := NewEngine()
	if _, fired := engine.Evaluate(map[string]float64{"Amount": 1e9}, nil); fired {
		t.Error("expected no decision without thresholds")
	}
}

func TestEvaluateCustomCheck(t *testing.T) {
	engine, err := NewEngine(Check{
		Name:       "tiny",
		Expression: "amount < 1.0",
		Reason: func(map[string]float64, *domain.Thresholds) string {
			return "tiny amount"
		},
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	reason, fired := engine.Evaluate(map[string]float64{"Amount": 0.5}, testThresholds())
	if !fired || reason != "tiny amount" {
		t.Errorf("expected tiny amount to fire, got %v %q", fired, reason)
	}
}

func TestConcurrentEvaluation(t *testing.T) {
	engine, _ := NewEngine()
	th := testThresholds()

	var wg sync.WaitGroup
	errs := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			features := map[string]float64{"Amount": float64(i * 500)}
			reason, fired := engine.Evaluate(features, th)
			wantFired := float64(i*500) > th.AmountUpper
			if fired != wantFired {
				errs <- reason
			}
			if fired && !strings.HasPrefix(reason, "Transaction amount") {
				errs <- reason
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for r := range errs {
		t.Errorf("unexpected result: %q", r)
	}
}
