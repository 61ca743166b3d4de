package issues

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

// PostgresRepository implements issue storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectIssue = `
	SELECT id, publication_id, issue_date, issue_number, language, file_id, file_size, mime_type,
	       thumbnail_path, created_by, created_at, updated_at
	FROM issues
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	var (
		i                    models.Issue
		thumbnail, createdBy sql.NullString
	)
	err := row.Scan(&i.ID, &i.PublicationID, &i.IssueDate, &i.IssueNumber, &i.Language, &i.FileID, &i.FileSize,
		&i.MimeType, &thumbnail, &createdBy, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	i.ThumbnailPath = thumbnail.String
	i.CreatedBy = createdBy.String
	return &i, nil
}

func (r *PostgresRepository) Create(ctx context.Context, issue *models.Issue) error {
	query := `
		INSERT INTO issues (id, publication_id, issue_date, issue_number, language, file_id, file_size, mime_type, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	createdBy := sql.NullString{String: issue.CreatedBy, Valid: issue.CreatedBy != ""}
	err := r.db.QueryRowContext(ctx, query,
		issue.ID, issue.PublicationID, issue.IssueDate, issue.IssueNumber, issue.Language,
		issue.FileID, issue.FileSize, issue.MimeType, createdBy,
	).Scan(&issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Issue, error) {
	return r.getOne(ctx, selectIssue+` WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByAssetID(ctx context.Context, assetID string) (*models.Issue, error) {
	return r.getOne(ctx, selectIssue+` WHERE file_id = $1`, assetID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.Issue, error) {
	issue, err := scanIssue(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return issue, nil
}

// UpdateFileStats refreshes the denormalised copy of the asset size.
func (r *PostgresRepository) UpdateFileStats(ctx context.Context, id string, size int64, mimeType string) error {
	query := `UPDATE issues SET file_size = $1, mime_type = $2, updated_at = now() WHERE id = $3`
	return r.execOne(ctx, query, size, mimeType, id)
}

func (r *PostgresRepository) SetThumbnail(ctx context.Context, id, path string) error {
	query := `UPDATE issues SET thumbnail_path = $1, updated_at = now() WHERE id = $2`
	return r.execOne(ctx, query, path, id)
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
		return common.ErrNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// ListWithoutThumbnail returns issues whose thumbnail was never produced,
// oldest first.
func (r *PostgresRepository) ListWithoutThumbnail(ctx context.Context, limit int) ([]*models.Issue, error) {
	rows, err := r.db.QueryContext(ctx, selectIssue+` WHERE thumbnail_path IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select issues: %w", err)
	}
	defer rows.Close()

	var result []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
