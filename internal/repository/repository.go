// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration and applies any
// pending schema migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := runMigrations(cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLRepository{db: db, driver: cfg.Driver}, nil
}

const decisionColumns = `
	id, source, is_fraud, fraud_score, explanation, transaction_amount, features,
	created_at, feedback_status, correct_label, feedback_timestamp,
	exported_at, export_id`

// SaveDecision inserts a new decision. An existing id is an error.
func (r *SQLRepository) SaveDecision(ctx context.Context, d *domain.Decision) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: decision id is required", domain.ErrInvalidInput)
	}

	features, err := json.Marshal(d.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	status := d.Feedback.Status
	if status == "" {
		status = domain.FeedbackUnverified
	}

	query := `INSERT INTO predictions (` + decisionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		d.ID, string(d.Source), d.IsFraud, d.Score, d.Explanation,
		d.Features.Amount, string(features),
		d.CreatedAt.UTC(), string(status),
		nullInt(d.Feedback.Label), nullTime(d.Feedback.Timestamp),
		nullTime(d.Feedback.ExportedAt), nullString(d.Feedback.ExportID),
	)
	return err
}

// GetDecision retrieves a decision with its feedback.
func (r *SQLRepository) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM predictions WHERE id = ?`

	d, err := scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: prediction %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// MergeFeedback applies a correction in a single conditional update, so
// concurrent submissions for the same id resolve to the last writer and no
// partially-updated record is ever visible.
func (r *SQLRepository) MergeFeedback(ctx context.Context, id string, label int) error {
	if domain.IsSentinel(id) {
		return fmt.Errorf("%w: rule-based decisions do not accept feedback", domain.ErrNotEligible)
	}

	query := `
		UPDATE predictions
		SET correct_label = ?,
			feedback_status = ?,
			feedback_timestamp = ?,
			feedback_version = feedback_version + 1,
			exported_at = NULL,
			export_id = NULL
		WHERE id = ? AND source = ?
	`

	now := time.Now().UTC().Truncate(time.Microsecond)
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		label, string(domain.FeedbackVerified), now, id, string(domain.SourceModel),
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var source string
	err = r.db.QueryRowContext(ctx, r.rebind(`SELECT source FROM predictions WHERE id = ?`), id).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: prediction %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: prediction %s has source %s", domain.ErrNotEligible, id, source)
}

// ScanVerified returns model decisions with verified feedback that have not
// been exported since their last correction, oldest correction first.
func (r *SQLRepository) ScanVerified(ctx context.Context) ([]domain.VerifiedRecord, error) {
	query := `
		SELECT id, correct_label, features, feedback_timestamp, feedback_version
		FROM predictions
		WHERE source = ? AND feedback_status = ? AND exported_at IS NULL
		ORDER BY feedback_timestamp, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(domain.SourceModel), string(domain.FeedbackVerified))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.VerifiedRecord
	for rows.Next() {
		var rec domain.VerifiedRecord
		var features string
		var label sql.NullInt64
		var verifiedAt sql.NullTime

		if err := rows.Scan(&rec.ID, &label, &features, &verifiedAt, &rec.Version); err != nil {
			return nil, err
		}
		if !label.Valid {
			continue
		}
		if err := json.Unmarshal([]byte(features), &rec.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features for %s: %w", rec.ID, err)
		}
		rec.Label = int(label.Int64)
		if verifiedAt.Valid {
			rec.VerifiedAt = verifiedAt.Time.UTC()
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// MarkExported stamps records with the export that included them. A record
// whose feedback was revised after the scan is left unmarked so the new
// label is picked up by the next export.
func (r *SQLRepository) MarkExported(ctx context.Context, records []domain.VerifiedRecord, exportID string, at time.Time) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		UPDATE predictions
		SET exported_at = ?, export_id = ?
		WHERE id = ? AND feedback_version = ? AND exported_at IS NULL
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	at = at.UTC().Truncate(time.Microsecond)
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, at, exportID, rec.ID, rec.Version); err != nil {
			return fmt.Errorf("failed to mark %s exported: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var (
		d          domain.Decision
		source     string
		status     string
		features   string
		label      sql.NullInt64
		feedbackAt sql.NullTime
		exportedAt sql.NullTime
		exportID   sql.NullString
		amount     float64
	)

	err := row.Scan(
		&d.ID, &source, &d.IsFraud, &d.Score, &d.Explanation, &amount, &features,
		&d.CreatedAt, &status, &label, &feedbackAt,
		&exportedAt, &exportID,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(features), &d.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features for %s: %w", d.ID, err)
	}

	d.Source = domain.Source(source)
	d.CreatedAt = d.CreatedAt.UTC()
	d.Feedback.Status = domain.FeedbackStatus(status)
	if label.Valid {
		v := int(label.Int64)
		d.Feedback.Label = &v
	}
	d.Feedback.Timestamp = timePtr(feedbackAt)
	d.Feedback.ExportedAt = timePtr(exportedAt)
	d.Feedback.ExportID = exportID.String

	return &d, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
