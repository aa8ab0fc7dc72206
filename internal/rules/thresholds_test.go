package rules

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/opensource-finance/aura/internal/domain"
)

func rulesConfig() domain.RulesConfig {
	return domain.DefaultConfig().Rules
}

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		q      float64
		want   float64
	}{
		{"single value", []float64{7}, 0.999, 7},
		{"median of odd", []float64{3, 1, 2}, 0.5, 2},
		{"median of even interpolates", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"max", []float64{1, 5, 3}, 1, 5},
		{"min", []float64{1, 5, 3}, 0, 1},
		{"upper tail", []float64{0, 10}, 0.999, 9.99},
		{"lower tail", []float64{0, 10}, 0.001, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quantile(tt.values, tt.q)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if !math.IsNaN(Quantile(nil, 0.5)) {
		t.Error("expected NaN for empty input")
	}
}

func TestComputeThresholds(t *testing.T) {
	csv := "Time,V1,V4,V14,Amount,Class\n" +
		"0,1,0,-10,5,0\n" +
		"1,1,10,0,5,0\n"

	th, err := ComputeThresholds(strings.NewReader(csv), rulesConfig())
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if math.Abs(th.V4Upper-9.99) > 1e-9 {
		t.Errorf("expected V4Upper 9.99, got %v", th.V4Upper)
	}
	if math.Abs(th.V14Lower-(-9.99)) > 1e-9 {
		t.Errorf("expected V14Lower -9.99, got %v", th.V14Lower)
	}
	if th.AmountUpper != 25000 {
		t.Errorf("expected AmountUpper 25000, got %v", th.AmountUpper)
	}
}

func TestComputeThresholdsErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"empty", ""},
		{"missing column", "V1,V4\n1,2\n"},
		{"no rows", "V4,V14\n"},
		{"non-numeric", "V4,V14\n1,abc\n"},
		{"short row", "V4,V14,V1\n1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ComputeThresholds(strings.NewReader(tt.csv), rulesConfig()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestThresholdHolder(t *testing.T) {
	t.Run("starts with fallbacks", func(t *testing.T) {
		h := NewThresholdHolder(rulesConfig())
		th := h.Load()
		if th.Source != SourceConfig {
			t.Errorf("expected source %s, got %s", SourceConfig, th.Source)
		}
		if th.V4Upper != 11.0 || th.V14Lower != -13.5 || th.AmountUpper != 25000 {
			t.Errorf("unexpected fallbacks: %+v", th)
		}
	})

	t.Run("reload from file swaps snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "creditcard.csv")
		if err := os.WriteFile(path, []byte("V4,V14\n0,-10\n10,0\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		cfg := rulesConfig()
		cfg.HistoricalDataPath = path

		h := NewThresholdHolder(cfg)
		before := h.Load()

		th, err := h.Reload()
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		if th.Source != path {
			t.Errorf("expected source %s, got %s", path, th.Source)
		}
		if h.Load() != th {
			t.Error("expected holder to publish reloaded snapshot")
		}
		if before.V4Upper != 11.0 {
			t.Error("previous snapshot was mutated")
		}
	})

	t.Run("failed reload keeps current", func(t *testing.T) {
		cfg := rulesConfig()
		cfg.HistoricalDataPath = filepath.Join(t.TempDir(), "missing.csv")

		h := NewThresholdHolder(cfg)
		before := h.Load()
		if _, err := h.Reload(); err == nil {
			t.Fatal("expected error for missing file")
		}
		if h.Load() != before {
			t.Error("expected snapshot to be unchanged")
		}
	})

	t.Run("concurrent load and swap", func(t *testing.T) {
		h := NewThresholdHolder(rulesConfig())
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if h.Load() == nil {
					t.Error("nil snapshot")
				}
			}()
			go func(i int) {
				defer wg.Done()
				h.Swap(&domain.Thresholds{V4Upper: float64(i), AmountUpper: 25000})
			}(i)
		}
		wg.Wait()
	})
}
