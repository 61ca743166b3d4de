package ocrresults

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

type Repository interface {
	Ensure(ctx context.Context, issueID string) error
	Get(ctx context.Context, issueID string) (*models.OcrResult, error)
	Requeue(ctx context.Context, issueID string) error
	Start(ctx context.Context, issueID string, at time.Time) error
	Finish(ctx context.Context, issueID, text string, at time.Time) error
	Fail(ctx context.Context, issueID, msg string, at time.Time) error
	ListByStatus(ctx context.Context, status models.OcrStatus) ([]string, error)
}
