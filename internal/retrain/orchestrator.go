// Package retrain runs the export, train and promote workflow.
package retrain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/aura/internal/domain"
	"github.com/opensource-finance/aura/internal/export"
	"github.com/opensource-finance/aura/internal/metrics"
	"github.com/opensource-finance/aura/internal/modelops"
	"github.com/opensource-finance/aura/internal/objectstore"
	"github.com/opensource-finance/aura/internal/scoring"
)

var tracer = otel.Tracer("aura-retrain")

// nameLayout is the timestamp suffix of job and model names.
const nameLayout = "20060102-150405"

// Store is the persistence the orchestrator needs.
type Store interface {
	domain.PredictionStore
	domain.ModelStore
	domain.RunStore
}

// Trainer runs a training job to completion and returns the artifact URI.
type Trainer interface {
	Train(ctx context.Context, job modelops.TrainingJob) (string, error)
}

// Registry registers an artifact as a deployable model.
type Registry interface {
	CreateModel(ctx context.Context, name, artifactURI string) (string, error)
}

// Endpoints is the live scoring endpoint.
type Endpoints interface {
	Live() scoring.Endpoint
	Swap(next scoring.Endpoint) scoring.Endpoint
	Probe(ctx context.Context, ep scoring.Endpoint) error
}

// transitions lists the legal successors of each non-terminal state.
// Failed is reachable from every state and is not listed.
var transitions = map[domain.RunState][]domain.RunState{
	domain.StateExport:      {domain.StateNoData, domain.StateTrain},
	domain.StateTrain:       {domain.StateCreateModel},
	domain.StateCreateModel: {domain.StateUpdateEndpoint},
}

func canTransition(from, to domain.RunState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Config holds the collaborators and settings of an Orchestrator.
type Config struct {
	Store     Store
	Objects   objectstore.Store
	Trainer   Trainer
	Registry  Registry
	Endpoints Endpoints
	Bus       domain.EventBus
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	TrainingPrefix string
	OutputPrefix   string
	Timeout        time.Duration
	MinRecords     int
}

// Orchestrator executes retraining runs one at a time.
type Orchestrator struct {
	store     Store
	objects   objectstore.Store
	trainer   Trainer
	registry  Registry
	endpoints Endpoints
	bus       domain.EventBus
	metrics   *metrics.Metrics
	logger    *slog.Logger

	trainingPrefix string
	outputPrefix   string
	timeout        time.Duration
	minRecords     int

	running sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// runState carries values between the states of one run.
type runState struct {
	run         *domain.RetrainRun
	artifactURI string
	invokeURL   string
	suffix      string
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Objects == nil || cfg.Trainer == nil || cfg.Registry == nil || cfg.Endpoints == nil {
		return nil, errors.New("orchestrator requires store, objects, trainer, registry and endpoints")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	minRecords := cfg.MinRecords
	if minRecords < 1 {
		minRecords = 1
	}
	trainingPrefix := cfg.TrainingPrefix
	if trainingPrefix == "" {
		trainingPrefix = "training-data/"
	}
	outputPrefix := cfg.OutputPrefix
	if outputPrefix == "" {
		outputPrefix = "training-output/"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:          cfg.Store,
		objects:        cfg.Objects,
		trainer:        cfg.Trainer,
		registry:       cfg.Registry,
		endpoints:      cfg.Endpoints,
		bus:            cfg.Bus,
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "retrain"),
		trainingPrefix: trainingPrefix,
		outputPrefix:   outputPrefix,
		timeout:        timeout,
		minRecords:     minRecords,
		ctx:            ctx,
		cancel:         cancel,
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}, nil
}

// Run executes one retraining run and waits for it to finish. The returned
// run is the final audit record; err is non-nil when the run failed.
func (o *Orchestrator) Run(ctx context.Context) (*domain.RetrainRun, error) {
	if !o.running.TryLock() {
		return nil, domain.ErrRunInProgress
	}
	defer o.running.Unlock()

	run := o.newRun()
	err := o.execute(ctx, run)
	return run, err
}

// Trigger starts a run in the background and returns its id.
func (o *Orchestrator) Trigger() (string, error) {
	if o.ctx.Err() != nil {
		return "", errors.New("orchestrator is closed")
	}
	if !o.running.TryLock() {
		return "", domain.ErrRunInProgress
	}

	run := o.newRun()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.running.Unlock()
		o.execute(o.ctx, run)
	}()
	return run.ID, nil
}

// Close cancels any background run and waits for it to stop.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// RestoreLive points the scoring client at the model promoted by an
// earlier run, if any.
func (o *Orchestrator) RestoreLive(ctx context.Context) error {
	m, err := o.store.LiveModel(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	current := o.endpoints.Live()
	if current.InvokeURL == m.InvokeURL {
		return nil
	}
	o.endpoints.Swap(scoring.Endpoint{Name: current.Name, ModelName: m.Name, InvokeURL: m.InvokeURL})
	o.logger.Info("restored live model", "model", m.Name, "invoke_url", m.InvokeURL)
	return nil
}

func (o *Orchestrator) newRun() *domain.RetrainRun {
	return &domain.RetrainRun{
		ID:        uuid.New().String(),
		State:     domain.StateExport,
		Status:    domain.RunRunning,
		StartedAt: o.now(),
	}
}

func (o *Orchestrator) execute(parent context.Context, run *domain.RetrainRun) error {
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "retrain.run", trace.WithAttributes(attribute.String("run.id", run.ID)))
	defer span.End()

	logger := o.logger.With("run_id", run.ID)
	logger.Info("retraining run started")

	rs := &runState{run: run, suffix: run.StartedAt.Format(nameLayout) + "-" + run.ID[:8]}
	o.saveRun(ctx, run)

	var runErr error
	state := domain.StateExport
	for {
		run.State = state
		logger.Info("entering state", "state", state)

		next, err := o.enter(ctx, rs, state)
		if err == nil && next != "" && !canTransition(state, next) {
			err = fmt.Errorf("illegal transition %s -> %s", state, next)
		}
		if err != nil {
			runErr = err
			run.FailedIn = state
			run.State = domain.StateFailed
			run.Status = domain.RunFailed
			run.Error = err.Error()
			logger.Error("retraining run failed", "state", state, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			break
		}
		if next == "" {
			run.Status = domain.RunSucceeded
			break
		}

		state = next
		o.saveRun(ctx, run)
	}

	finished := o.now()
	run.FinishedAt = &finished
	elapsed := finished.Sub(run.StartedAt)

	// The run context may have expired; the audit record is still written.
	o.saveRun(context.WithoutCancel(ctx), run)
	o.metrics.ObserveRun(string(run.State), string(run.Status), run.RecordCount, elapsed)
	o.publish(context.WithoutCancel(ctx), run)

	span.SetAttributes(
		attribute.String("run.state", string(run.State)),
		attribute.Int("run.records", run.RecordCount),
	)
	logger.Info("retraining run finished",
		"state", run.State,
		"status", run.Status,
		"record_count", run.RecordCount,
		"model", run.ModelName,
		"duration_ms", elapsed.Milliseconds(),
	)
	return runErr
}

// enter performs the work of state and returns the next state, or "" when
// state is terminal.
func (o *Orchestrator) enter(ctx context.Context, rs *runState, state domain.RunState) (domain.RunState, error) {
	ctx, span := tracer.Start(ctx, "retrain."+string(state))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("run aborted before %s: %w", state, err)
	}

	switch state {
	case domain.StateExport:
		return o.export(ctx, rs)
	case domain.StateNoData:
		return "", nil
	case domain.StateTrain:
		return o.train(ctx, rs)
	case domain.StateCreateModel:
		return o.createModel(ctx, rs)
	case domain.StateUpdateEndpoint:
		return "", o.updateEndpoint(ctx, rs)
	default:
		return "", fmt.Errorf("unknown state %s", state)
	}
}

func (o *Orchestrator) export(ctx context.Context, rs *runState) (domain.RunState, error) {
	records, err := o.store.ScanVerified(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: scan verified: %v", domain.ErrExportFailed, err)
	}
	if len(records) == 0 {
		return domain.StateNoData, nil
	}

	rs.run.RecordCount = len(records)
	if len(records) < o.minRecords {
		// Rows stay unexported so later runs count them toward the gate.
		o.logger.Info("not enough verified records to train",
			"run_id", rs.run.ID,
			"record_count", len(records),
			"min_records", o.minRecords,
		)
		return domain.StateNoData, nil
	}

	batch := export.NewBatch(records)
	data, err := batch.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: serialize batch: %v", domain.ErrExportFailed, err)
	}

	at := o.now()
	key := batch.Key(o.trainingPrefix, at)
	location, err := o.objects.Put(ctx, key, bytes.NewReader(data), export.ContentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExportFailed, err)
	}
	if err := o.store.MarkExported(ctx, batch.Records, batch.ID, at); err != nil {
		return "", fmt.Errorf("%w: mark exported: %v", domain.ErrExportFailed, err)
	}

	rs.run.Location = location
	o.logger.Info("export batch written",
		"run_id", rs.run.ID,
		"batch_id", batch.ID,
		"record_count", batch.Len(),
		"location", location,
	)
	return domain.StateTrain, nil
}

func (o *Orchestrator) train(ctx context.Context, rs *runState) (domain.RunState, error) {
	artifact, err := o.trainer.Train(ctx, modelops.TrainingJob{
		Name:         "aura-train-" + rs.suffix,
		InputPrefix:  o.trainingPrefix,
		OutputPrefix: o.outputPrefix,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrTrainingFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrTrainingFailed, err)
		}
		return "", err
	}
	rs.artifactURI = artifact
	return domain.StateCreateModel, nil
}

func (o *Orchestrator) createModel(ctx context.Context, rs *runState) (domain.RunState, error) {
	name := "aura-model-" + rs.suffix

	invokeURL, err := o.registry.CreateModel(ctx, name, rs.artifactURI)
	if err != nil {
		if !errors.Is(err, domain.ErrModelCreationFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrModelCreationFailed, err)
		}
		return "", err
	}

	model := &domain.Model{
		Name:        name,
		ArtifactURI: rs.artifactURI,
		InvokeURL:   invokeURL,
		RunID:       rs.run.ID,
		RecordCount: rs.run.RecordCount,
		Status:      domain.ModelRegistered,
		CreatedAt:   o.now(),
	}
	if err := o.store.SaveModel(ctx, model); err != nil {
		return "", fmt.Errorf("%w: record model: %v", domain.ErrModelCreationFailed, err)
	}

	rs.invokeURL = invokeURL
	rs.run.ModelName = name
	return domain.StateUpdateEndpoint, nil
}

// updateEndpoint probes the candidate, swaps it live and promotes it in the
// store. A failed promotion swaps the previous endpoint back, so traffic is
// always served by a fully created model.
func (o *Orchestrator) updateEndpoint(ctx context.Context, rs *runState) error {
	current := o.endpoints.Live()
	candidate := scoring.Endpoint{
		Name:      current.Name,
		ModelName: rs.run.ModelName,
		InvokeURL: rs.invokeURL,
	}

	if err := o.endpoints.Probe(ctx, candidate); err != nil {
		return fmt.Errorf("%w: candidate probe: %v", domain.ErrEndpointUpdateFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEndpointUpdateFailed, err)
	}

	previous := o.endpoints.Swap(candidate)
	if err := o.store.PromoteModel(ctx, rs.run.ModelName, o.now()); err != nil {
		o.endpoints.Swap(previous)
		o.logger.Warn("promotion failed, previous endpoint restored",
			"run_id", rs.run.ID,
			"model", rs.run.ModelName,
			"previous_model", previous.ModelName,
		)
		return fmt.Errorf("%w: promote: %v", domain.ErrEndpointUpdateFailed, err)
	}

	o.logger.Info("endpoint updated",
		"run_id", rs.run.ID,
		"endpoint", candidate.Name,
		"model", candidate.ModelName,
		"previous_model", previous.ModelName,
	)
	return nil
}

func (o *Orchestrator) saveRun(ctx context.Context, run *domain.RetrainRun) {
	if err := o.store.SaveRun(ctx, run); err != nil {
		o.logger.Warn("failed to record run", "run_id", run.ID, "state", run.State, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, run *domain.RetrainRun) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicRetrainCompleted, payload); err != nil {
		o.logger.Warn("failed to publish run result", "run_id", run.ID, "error", err)
	}
}
