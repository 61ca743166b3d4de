package issues

import (
	"context"

	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, issue *models.Issue) error
	GetByID(ctx context.Context, id string) (*models.Issue, error)
	GetByAssetID(ctx context.Context, assetID string) (*models.Issue, error)
	UpdateFileStats(ctx context.Context, id string, size int64, mimeType string) error
	SetThumbnail(ctx context.Context, id, path string) error
	ListWithoutThumbnail(ctx context.Context, limit int) ([]*models.Issue, error)
}
