package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// counterValue returns the value of the counter name with the given labels.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			got := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveDecision("model", true, 10*time.Millisecond)
	m.ObserveDecision("model", false, 5*time.Millisecond)
	m.ObserveDecision("rule-based", true, time.Millisecond)
	m.ObserveFeedback("ok")
	m.ObserveFeedback("not_eligible")
	m.ObserveExplanation(errors.New("timeout"))
	m.ObserveRun("UpdateEndpoint", "succeeded", 12, time.Minute)

	tests := []struct {
		name   string
		metric string
		labels map[string]string
		want   float64
	}{
		{"model fraud", "aura_decisions_total", map[string]string{"source": "model", "verdict": "fraud"}, 1},
		{"model legit", "aura_decisions_total", map[string]string{"source": "model", "verdict": "legit"}, 1},
		{"rule-based", "aura_decisions_total", map[string]string{"source": "rule-based", "verdict": "fraud"}, 1},
		{"not eligible feedback", "aura_feedback_total", map[string]string{"outcome": "not_eligible"}, 1},
		{"failed explanation", "aura_explanations_total", map[string]string{"outcome": "error"}, 1},
		{"runs", "aura_retrain_runs_total", map[string]string{"state": "UpdateEndpoint", "status": "succeeded"}, 1},
		{"exported records", "aura_exported_records_total", nil, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(t, m, tt.metric, tt.labels); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("model", true, time.Millisecond)
	m.ObserveScoring(nil, time.Millisecond)
	m.ObserveExplanation(nil)
	m.ObserveFeedback("ok")
	m.ObserveRun("NoData", "succeeded", 0, time.Second)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveScoring(nil, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "aura_scoring_duration_seconds") {
		t.Error("expected scoring histogram in exposition")
	}
}
