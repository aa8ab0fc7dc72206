package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

const modelColumns = `name, artifact_uri, invoke_url, run_id, record_count, status, created_at, promoted_at`

// SaveModel registers a model or updates an existing registration.
func (r *SQLRepository) SaveModel(ctx context.Context, m *domain.Model) error {
	if m == nil || m.Name == "" {
		return fmt.Errorf("%w: model name is required", domain.ErrInvalidInput)
	}

	status := m.Status
	if status == "" {
		status = domain.ModelRegistered
	}

	query := `
		INSERT INTO models (` + modelColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			artifact_uri = excluded.artifact_uri,
			invoke_url = excluded.invoke_url,
			run_id = excluded.run_id,
			record_count = excluded.record_count,
			status = excluded.status,
			promoted_at = excluded.promoted_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		m.Name, m.ArtifactURI, m.InvokeURL, m.RunID, m.RecordCount,
		string(status), m.CreatedAt.UTC(), nullTime(m.PromotedAt),
	)
	return err
}

// GetModel retrieves a registered model by name.
func (r *SQLRepository) GetModel(ctx context.Context, name string) (*domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE name = ?`

	m, err := scanModel(r.db.QueryRowContext(ctx, r.rebind(query), name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: model %s", domain.ErrNotFound, name)
	}
	return m, err
}

// PromoteModel retires the current live model and marks name live in one
// transaction, so at most one model is ever live.
func (r *SQLRepository) PromoteModel(ctx context.Context, name string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`UPDATE models SET status = ? WHERE status = ? AND name <> ?`),
		string(domain.ModelRetired), string(domain.ModelLive), name,
	); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, r.rebind(`UPDATE models SET status = ?, promoted_at = ? WHERE name = ?`),
		string(domain.ModelLive), at.UTC().Truncate(time.Microsecond), name,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: model %s", domain.ErrNotFound, name)
	}

	return tx.Commit()
}

// LiveModel returns the model currently serving traffic.
func (r *SQLRepository) LiveModel(ctx context.Context) (*domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE status = ? ORDER BY promoted_at DESC LIMIT 1`

	m, err := scanModel(r.db.QueryRowContext(ctx, r.rebind(query), string(domain.ModelLive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no live model", domain.ErrNotFound)
	}
	return m, err
}

func scanModel(row rowScanner) (*domain.Model, error) {
	var m domain.Model
	var status string
	var promotedAt sql.NullTime

	if err := row.Scan(
		&m.Name, &m.ArtifactURI, &m.InvokeURL, &m.RunID, &m.RecordCount,
		&status, &m.CreatedAt, &promotedAt,
	); err != nil {
		return nil, err
	}

	m.Status = domain.ModelStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.PromotedAt = timePtr(promotedAt)
	return &m, nil
}
