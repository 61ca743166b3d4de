package ocrresults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

// PostgresRepository implements OCR result storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ensure creates a queued result for the issue unless one already exists.
func (r *PostgresRepository) Ensure(ctx context.Context, issueID string) error {
	query := `INSERT INTO ocr_results (issue_id, status) VALUES ($1, 'queued') ON CONFLICT (issue_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, issueID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, issueID string) (*models.OcrResult, error) {
	query := `
		SELECT issue_id, status, full_text, error_message, started_at, finished_at, created_at, updated_at
		FROM ocr_results WHERE issue_id = $1
	`
	var (
		res               models.OcrResult
		text, errMsg      sql.NullString
		started, finished sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, issueID).Scan(
		&res.IssueID, &res.Status, &text, &errMsg, &started, &finished, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	res.FullText = text.String
	res.ErrorMessage = errMsg.String
	if started.Valid {
		res.StartedAt = &started.Time
	}
	if finished.Valid {
		res.FinishedAt = &finished.Time
	}
	return &res, nil
}

// Requeue resets a finished result (done or failed) for another attempt.
func (r *PostgresRepository) Requeue(ctx context.Context, issueID string) error {
	query := `
		UPDATE ocr_results
		SET status = 'queued', error_message = NULL, full_text = NULL, updated_at = now()
		WHERE issue_id = $1 AND status IN ('failed', 'done')
	`
	return r.execOne(ctx, query, issueID)
}

// Start claims a queued result. A retry overwrites both attempt timestamps.
func (r *PostgresRepository) Start(ctx context.Context, issueID string, at time.Time) error {
	query := `
		UPDATE ocr_results
		SET status = 'processing', started_at = $1, finished_at = NULL, error_message = NULL, updated_at = now()
		WHERE issue_id = $2 AND status = 'queued'
	`
	return r.execOne(ctx, query, at, issueID)
}

func (r *PostgresRepository) Finish(ctx context.Context, issueID, text string, at time.Time) error {
	query := `
		UPDATE ocr_results
		SET status = 'done', full_text = $1, finished_at = $2, updated_at = now()
		WHERE issue_id = $3 AND status = 'processing'
	`
	return r.execOne(ctx, query, text, at, issueID)
}

func (r *PostgresRepository) Fail(ctx context.Context, issueID, msg string, at time.Time) error {
	query := `
		UPDATE ocr_results
		SET status = 'failed', error_message = $1, full_text = NULL, finished_at = $2, updated_at = now()
		WHERE issue_id = $3 AND status = 'processing'
	`
	return r.execOne(ctx, query, msg, at, issueID)
}

// ListByStatus returns the issue ids of results in status, oldest first.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status models.OcrStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT issue_id FROM ocr_results WHERE status = $1 ORDER BY updated_at`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to select ocr results: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrStatusConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
