package assets

import (
	"context"

	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, a *models.Asset) error
	GetByID(ctx context.Context, id string) (*models.Asset, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to models.AssetStatus) error
	MarkFailed(ctx context.Context, id string, from models.AssetStatus, msg string) error
	CommitCompression(ctx context.Context, id, storedPath string, size int64, sha256 string) error
	Delete(ctx context.Context, id string) error
	ListIDsByStatus(ctx context.Context, status models.AssetStatus) ([]string, error)
}
