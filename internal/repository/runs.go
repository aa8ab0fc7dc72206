package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/aura/internal/domain"
)

const runColumns = `id, state, status, failed_in, record_count, location, model_name, error, started_at, finished_at`

// SaveRun inserts or updates a retraining run record.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.RetrainRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO retrain_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			status = excluded.status,
			failed_in = excluded.failed_in,
			record_count = excluded.record_count,
			location = excluded.location,
			model_name = excluded.model_name,
			error = excluded.error,
			finished_at = excluded.finished_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, string(run.State), string(run.Status), string(run.FailedIn),
		run.RecordCount, run.Location, run.ModelName, run.Error,
		run.StartedAt.UTC(), nullTime(run.FinishedAt),
	)
	return err
}

// GetRun retrieves a run by id.
func (r *SQLRepository) GetRun(ctx context.Context, id string) (*domain.RetrainRun, error) {
	query := `SELECT ` + runColumns + ` FROM retrain_runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.RetrainRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM retrain_runs ORDER BY started_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RetrainRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*domain.RetrainRun, error) {
	var run domain.RetrainRun
	var state, status, failedIn string
	var finishedAt sql.NullTime

	if err := row.Scan(
		&run.ID, &state, &status, &failedIn, &run.RecordCount,
		&run.Location, &run.ModelName, &run.Error,
		&run.StartedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	run.State = domain.RunState(state)
	run.Status = domain.RunStatus(status)
	run.FailedIn = domain.RunState(failedIn)
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = timePtr(finishedAt)
	return &run, nil
}
