package domain

import "time"

// ModelStatus is the lifecycle of a registered model.
type ModelStatus string

const (
	ModelRegistered ModelStatus = "registered"
	ModelLive       ModelStatus = "live"
	ModelRetired    ModelStatus = "retired"
)

// Model is a deployable unit produced by a retraining run.
type Model struct {
	Name        string      `json:"name"`
	ArtifactURI string      `json:"artifact_uri"`
	InvokeURL   string      `json:"invoke_url"`
	RunID       string      `json:"run_id"`
	RecordCount int         `json:"record_count"`
	Status      ModelStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	PromotedAt  *time.Time  `json:"promoted_at,omitempty"`
}

// RunState is a state of the retraining state machine.
type RunState string

const (
	StateExport         RunState = "Export"
	StateNoData         RunState = "NoData"
	StateTrain          RunState = "Train"
	StateCreateModel    RunState = "CreateModel"
	StateUpdateEndpoint RunState = "UpdateEndpoint"
	StateFailed         RunState = "Failed"
)

// RunStatus is the outcome of a retraining run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RetrainRun is the audit record of one retraining run.
type RetrainRun struct {
	ID          string     `json:"run_id"`
	State       RunState   `json:"state"`
	Status      RunStatus  `json:"status"`
	FailedIn    RunState   `json:"failed_in,omitempty"`
	RecordCount int        `json:"record_count"`
	Location    string     `json:"location,omitempty"`
	ModelName   string     `json:"model_name,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
