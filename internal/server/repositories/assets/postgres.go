package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

// PostgresRepository implements asset storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Asset) error {
	query := `
		INSERT INTO assets (id, original_name, stored_path, original_path, sha256, size, mime_type, status, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		a.ID, a.OriginalName, a.StoredPath, nullString(a.OriginalPath), a.SHA256, a.Size, a.MimeType, a.Status, nullString(a.UploadedBy),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Asset, error) {
	query := `
		SELECT id, original_name, stored_path, original_path, sha256, size, mime_type, status, error_message, uploaded_by, created_at, updated_at
		FROM assets WHERE id = $1
	`
	var (
		a                              models.Asset
		originalPath, errMsg, uploader sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.OriginalName, &a.StoredPath, &originalPath, &a.SHA256, &a.Size, &a.MimeType,
		&a.Status, &errMsg, &uploader, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.OriginalPath = originalPath.String
	a.ErrorMessage = errMsg.String
	a.UploadedBy = uploader.String
	return &a, nil
}

// CompareAndSetStatus moves the asset from -> to and clears error_message.
// ErrStatusConflict means another writer changed the status first.
func (r *PostgresRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.AssetStatus) error {
	if err := models.ValidateAssetTransition(from, to); err != nil {
		return err
	}
	query := `
		UPDATE assets SET status = $1, error_message = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// MarkFailed records msg and moves the asset to failed.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, from models.AssetStatus, msg string) error {
	if err := models.ValidateAssetTransition(from, models.AssetFailed); err != nil {
		return err
	}
	query := `
		UPDATE assets SET status = 'failed', error_message = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, msg, id, from)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// CommitCompression points the asset at its compressed bytes, forgets the
// original input path and hands the asset over to OCR.
func (r *PostgresRepository) CommitCompression(ctx context.Context, id, storedPath string, size int64, sha256 string) error {
	query := `
		UPDATE assets
		SET stored_path = $1, size = $2, sha256 = $3, original_path = NULL,
		    status = 'processing_ocr', error_message = NULL, updated_at = now()
		WHERE id = $4 AND status = 'compressing'
	`
	res, err := r.db.ExecContext(ctx, query, storedPath, size, sha256, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// ListIDsByStatus returns the ids of assets in status, oldest update first.
func (r *PostgresRepository) ListIDsByStatus(ctx context.Context, status models.AssetStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM assets WHERE status = $1 ORDER BY updated_at`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to select assets: %w", err)
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
	return ids, rows.Err()
}

func expectOne(res sql.Result) error {
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
