// Package domain defines the core interfaces and types for Aura.
package domain

import (
	"context"
	"time"
)

// PredictionStore is the durable record of every decision. It is the only
// component allowed to mutate decisions and their feedback.
type PredictionStore interface {
	// SaveDecision persists a new decision. Decisions are never overwritten.
	SaveDecision(ctx context.Context, d *Decision) error

	// GetDecision returns ErrNotFound when no decision has the given id.
	GetDecision(ctx context.Context, id string) (*Decision, error)

	// MergeFeedback records a correction atomically for a single decision.
	// Returns ErrNotEligible for rule-based decisions and ErrNotFound for
	// unknown ids. Resubmission overwrites the previous label.
	MergeFeedback(ctx context.Context, id string, label int) error

	// ScanVerified returns verified decisions not yet exported.
	ScanVerified(ctx context.Context) ([]VerifiedRecord, error)

	// MarkExported marks records as included in an export batch.
	MarkExported(ctx context.Context, records []VerifiedRecord, exportID string, at time.Time) error
}

// ModelStore tracks registered models and which one is live.
type ModelStore interface {
	SaveModel(ctx context.Context, m *Model) error
	GetModel(ctx context.Context, name string) (*Model, error)

	// PromoteModel marks name live and retires the previous live model in
	// one transaction.
	PromoteModel(ctx context.Context, name string, at time.Time) error

	// LiveModel returns ErrNotFound when no model has been promoted.
	LiveModel(ctx context.Context) (*Model, error)
}

// RunStore keeps the audit log of retraining runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *RetrainRun) error
	GetRun(ctx context.Context, id string) (*RetrainRun, error)
	ListRuns(ctx context.Context, limit int) ([]*RetrainRun, error)
}

// Repository is the full persistence surface.
type Repository interface {
	PredictionStore
	ModelStore
	RunStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"-"`
	PostgresDB       string `yaml:"postgresDB" json:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode" json:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}
