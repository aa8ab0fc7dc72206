package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/aura/internal/domain"
	"github.com/opensource-finance/aura/internal/metrics"
	"github.com/opensource-finance/aura/internal/scoring"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// defaultRunLimit and maxRunLimit bound GET /retrain/runs.
const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// Decider runs the decision pipeline.
type Decider interface {
	Decide(ctx context.Context, raw map[string]any) (*domain.Decision, error)
}

// FeedbackRecorder records human corrections.
type FeedbackRecorder interface {
	Submit(ctx context.Context, id string, label int) error
}

// Retrainer starts retraining runs.
type Retrainer interface {
	Run(ctx context.Context) (*domain.RetrainRun, error)
	Trigger() (string, error)
}

// ThresholdSource holds the rule thresholds.
type ThresholdSource interface {
	Load() *domain.Thresholds
	Reload() (*domain.Thresholds, error)
}

// LiveEndpoint reports the scoring endpoint receiving traffic.
type LiveEndpoint interface {
	Live() scoring.Endpoint
}

// Deps are the collaborators served by the API. Cache, Bus and Metrics
// are optional.
type Deps struct {
	Pipeline   Decider
	Feedback   FeedbackRecorder
	Retrainer  Retrainer
	Thresholds ThresholdSource
	Endpoints  LiveEndpoint
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Metrics    *metrics.Metrics
	Version    string
	Logger     *slog.Logger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline   Decider
	feedback   FeedbackRecorder
	retrainer  Retrainer
	thresholds ThresholdSource
	endpoints  LiveEndpoint
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	version    string
	logger     *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline:   deps.Pipeline,
		feedback:   deps.Feedback,
		retrainer:  deps.Retrainer,
		thresholds: deps.Thresholds,
		endpoints:  deps.Endpoints,
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		version:    deps.Version,
		logger:     logger.With("component", "api"),
	}
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	PredictionID string        `json:"prediction_id"`
	Source       domain.Source `json:"source"`
	IsFraud      bool          `json:"is_fraud"`
	FraudScore   float64       `json:"fraud_score"`
	Explanation  string        `json:"explanation"`
}

// Predict handles POST /predict. The body is a flat feature object.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	d, err := h.pipeline.Decide(ctx, raw)
	if err != nil {
		h.logger.Error("prediction failed", "trace_id", GetTraceID(ctx), "error", err)
		status := statusFor(err)
		writeError(w, status, errorMessage(status, err, "prediction failed"))
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		PredictionID: d.PublicID(),
		Source:       d.Source,
		IsFraud:      d.IsFraud,
		FraudScore:   d.Score,
		Explanation:  d.Explanation,
	})
}

// GetPrediction retrieves a stored decision with its feedback.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	d, err := h.repo.GetDecision(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Error("failed to get prediction", "prediction_id", id, "error", err)
		}
		status := statusFor(err)
		writeError(w, status, errorMessage(status, errors.New("prediction not found"), "failed to get prediction"))
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	PredictionID string `json:"prediction_id"`
	CorrectLabel *int   `json:"correct_label"`
}

// SubmitFeedback handles POST /feedback.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FeedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.CorrectLabel == nil {
		writeError(w, http.StatusBadRequest, "correct_label is required")
		return
	}

	if err := h.feedback.Submit(ctx, req.PredictionID, *req.CorrectLabel); err != nil {
		status := statusFor(err)
		writeError(w, status, errorMessage(status, err, "failed to record feedback"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prediction_id": req.PredictionID,
		"correct_label": *req.CorrectLabel,
		"status":        domain.FeedbackVerified,
	})
}

// TriggerRetrain starts a retraining run in the background.
func (h *Handler) TriggerRetrain(w http.ResponseWriter, r *http.Request) {
	runID, err := h.retrainer.Trigger()
	if err != nil {
		status := statusFor(err)
		writeError(w, status, errorMessage(status, err, "failed to start retraining run"))
		return
	}

	h.logger.Info("retraining run started", "run_id", runID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
	})
}

// Export runs the retraining pipeline synchronously and returns the run
// record. A run with nothing to export reports a record count of zero.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	// A run outlives its caller; the orchestrator bounds it with its own timeout.
	run, err := h.retrainer.Run(context.WithoutCancel(r.Context()))
	if err != nil && run == nil {
		status := statusFor(err)
		writeError(w, status, errorMessage(status, err, "failed to start retraining run"))
		return
	}
	if err != nil {
		writeJSON(w, statusFor(err), run)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListRuns returns the most recent retraining runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*domain.RetrainRun{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves one retraining run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to get run", "run_id", id, "error", err)
		}
		writeError(w, status, errorMessage(status, errors.New("run not found"), "failed to get run"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// LiveModel reports the endpoint receiving traffic and the promoted model
// behind it, if any.
func (h *Handler) LiveModel(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"endpoint": h.endpoints.Live(),
	}

	m, err := h.repo.LiveModel(r.Context())
	switch {
	case err == nil:
		resp["model"] = m
	case errors.Is(err, domain.ErrNotFound):
		resp["model"] = nil
	default:
		h.logger.Error("failed to load live model", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load live model")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetThresholds returns the current rule threshold snapshot.
func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.thresholds.Load())
}

// ReloadThresholds recomputes the thresholds from historical data.
func (h *Handler) ReloadThresholds(w http.ResponseWriter, r *http.Request) {
	t, err := h.thresholds.Reload()
	if err != nil {
		h.logger.Error("failed to reload thresholds", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload thresholds")
		return
	}

	h.logger.Info("thresholds reloaded",
		"source", t.Source,
		"v4_upper", t.V4Upper,
		"v14_lower", t.V14Lower,
		"amount_upper", t.AmountUpper,
	)
	writeJSON(w, http.StatusOK, t)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			return
		}
		components[name] = "ok"
	}

	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "repository unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidLabel),
		errors.Is(err, domain.ErrNotEligible):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrScoringUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTrainingFailed),
		errors.Is(err, domain.ErrModelCreationFailed),
		errors.Is(err, domain.ErrEndpointUpdateFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns the client-facing text for err. Server-side failures
// get the fixed internal message; their detail stays in the logs.
func errorMessage(status int, err error, internal string) string {
	switch {
	case status == http.StatusServiceUnavailable:
		return "scoring service unavailable"
	case status >= http.StatusInternalServerError:
		return internal
	default:
		return err.Error()
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
