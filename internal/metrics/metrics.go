// Package metrics exposes Prometheus collectors for the decision pipeline,
// feedback and retraining.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	decisionLatency prometheus.Histogram
	scoring         *prometheus.HistogramVec
	explanations    *prometheus.CounterVec
	feedback        *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	exportedRecords prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Name:      "decisions_total",
			Help:      "Decisions produced, by source and verdict.",
		}, []string{"source", "verdict"}),
		decisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aura",
			Name:      "decision_duration_seconds",
			Help:      "End-to-end decision latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		scoring: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aura",
			Name:      "scoring_duration_seconds",
			Help:      "Scoring endpoint latency, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		explanations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Name:      "explanations_total",
			Help:      "Explanation requests, by outcome.",
		}, []string{"outcome"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Name:      "feedback_total",
			Help:      "Feedback submissions, by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Name:      "retrain_runs_total",
			Help:      "Retraining runs, by final state and status.",
		}, []string{"state", "status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aura",
			Name:      "retrain_run_duration_seconds",
			Help:      "Retraining run duration.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600},
		}),
		exportedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aura",
			Name:      "exported_records_total",
			Help:      "Verified records written to export batches.",
		}),
	}

	reg.MustRegister(
		m.decisions,
		m.decisionLatency,
		m.scoring,
		m.explanations,
		m.feedback,
		m.runs,
		m.runDuration,
		m.exportedRecords,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveDecision counts a decision and records its latency.
func (m *Metrics) ObserveDecision(source string, fraud bool, d time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(source, verdict(fraud)).Inc()
	m.decisionLatency.Observe(d.Seconds())
}

// ObserveScoring records one scoring call.
func (m *Metrics) ObserveScoring(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.scoring.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

// ObserveExplanation counts one explanation request.
func (m *Metrics) ObserveExplanation(err error) {
	if m == nil {
		return
	}
	m.explanations.WithLabelValues(outcome(err)).Inc()
}

// ObserveFeedback counts a feedback submission with its outcome label.
func (m *Metrics) ObserveFeedback(result string) {
	if m == nil {
		return
	}
	m.feedback.WithLabelValues(result).Inc()
}

// ObserveRun records a finished retraining run.
func (m *Metrics) ObserveRun(state, status string, records int, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state, status).Inc()
	m.runDuration.Observe(d.Seconds())
	m.exportedRecords.Add(float64(records))
}

func verdict(fraud bool) string {
	if fraud {
		return "fraud"
	}
	return "legit"
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
