package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/queue"
)

// RetryOCR re-runs the OCR stage of an issue without touching the compressed
// asset. It requires compression to have committed.
func (p *Pipeline) RetryOCR(ctx context.Context, issueID string) error {
	if p.leases.isHeld(ocrKey(issueID)) {
		return common.ErrAlreadyRunning
	}

	issue, err := p.Repos.Issues(p.Tx.DB()).GetByID(ctx, issueID)
	if err != nil {
		return err
	}
	asset, err := p.Repos.Assets(p.Tx.DB()).GetByID(ctx, issue.FileID)
	if err != nil {
		return err
	}

	switch asset.Status {
	case models.AssetProcessingOCR, models.AssetDone:
	case models.AssetFailed:
		if !asset.CompressionCommitted() {
			return common.Preconditionf("asset %s failed before compression committed, retry the pipeline instead", asset.ID)
		}
	default:
		return common.Preconditionf("asset %s is %s", asset.ID, asset.Status)
	}

	err = p.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := p.Repos.OcrResults(tx)
		if err := repo.Ensure(ctx, issueID); err != nil {
			return err
		}
		res, err := repo.Get(ctx, issueID)
		if err != nil {
			return err
		}
		switch res.Status {
		case models.OcrProcessing:
			return common.ErrAlreadyRunning
		case models.OcrFailed, models.OcrDone:
			if err := repo.Requeue(ctx, issueID); err != nil {
				return err
			}
		}
		if asset.Status == models.AssetProcessingOCR {
			return nil
		}
		return p.Repos.Assets(tx).CompareAndSetStatus(ctx, asset.ID, asset.Status, models.AssetProcessingOCR)
	})
	if err != nil {
		return err
	}

	if err := p.enqueue(ctx, queue.Job{Stage: queue.StageOCR, AssetID: asset.ID, IssueID: issueID}); err != nil {
		p.failOCRDispatch(ctx, p.Logger, asset.ID, err)
		return err
	}
	p.Logger.Info(ctx, "ocr retry scheduled", "issue_id", issueID, "asset_id", asset.ID)
	return nil
}

// RetryPipeline re-enters a failed asset at the Compress stage, starting from
// whatever input is still on disk.
func (p *Pipeline) RetryPipeline(ctx context.Context, assetID string) error {
	if p.leases.isHeld(assetKey(assetID)) {
		return common.ErrAlreadyRunning
	}

	repo := p.Repos.Assets(p.Tx.DB())
	asset, err := repo.GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if asset.Status != models.AssetFailed {
		return common.Preconditionf("only failed assets can be retried, asset %s is %s", asset.ID, asset.Status)
	}

	err = repo.CompareAndSetStatus(ctx, asset.ID, models.AssetFailed, models.AssetCompressing)
	if errors.Is(err, common.ErrStatusConflict) {
		return common.ErrAlreadyRunning
	}
	if err != nil {
		return err
	}

	if err := p.enqueue(ctx, queue.Job{Stage: queue.StageCompress, AssetID: asset.ID}); err != nil {
		if merr := repo.MarkFailed(ctx, asset.ID, models.AssetCompressing, truncate(err.Error())); merr != nil {
			p.Logger.Error(ctx, "failed to mark asset failed", "asset_id", asset.ID, "error", merr)
		}
		return err
	}
	p.Logger.Info(ctx, "pipeline retry scheduled", "asset_id", asset.ID)
	return nil
}

// RetryAllFailedOCR requeues every failed OCR result that can be retried and
// returns how many were scheduled.
func (p *Pipeline) RetryAllFailedOCR(ctx context.Context) (int, error) {
	ids, err := p.Repos.OcrResults(p.Tx.DB()).ListByStatus(ctx, models.OcrFailed)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		if err := p.RetryOCR(ctx, id); err != nil {
			p.Logger.Warn(ctx, "ocr retry skipped", "issue_id", id, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (p *Pipeline) RegenerateThumbnail(ctx context.Context, issueID string) error {
	issue, err := p.Repos.Issues(p.Tx.DB()).GetByID(ctx, issueID)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, queue.Job{Stage: queue.StageThumbnail, AssetID: issue.FileID, IssueID: issue.ID})
}

// RegenerateMissingThumbnails schedules thumbnails for up to limit issues that
// have none.
func (p *Pipeline) RegenerateMissingThumbnails(ctx context.Context, limit int) (int, error) {
	list, err := p.Repos.Issues(p.Tx.DB()).ListWithoutThumbnail(ctx, limit)
	if err != nil {
		return 0, err
	}
	for i, issue := range list {
		if err := p.enqueue(ctx, queue.Job{Stage: queue.StageThumbnail, AssetID: issue.FileID, IssueID: issue.ID}); err != nil {
			return i, err
		}
	}
	return len(list), nil
}

// DeleteAsset removes the asset row, which cascades to its issue and OCR
// result, and then the files it references.
func (p *Pipeline) DeleteAsset(ctx context.Context, assetID string) error {
	release, ok := p.leases.acquire(assetKey(assetID))
	if !ok {
		return common.ErrAlreadyRunning
	}
	defer release()

	asset, err := p.Repos.Assets(p.Tx.DB()).GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	issue, err := p.Repos.Issues(p.Tx.DB()).GetByAssetID(ctx, assetID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if issue != nil && p.leases.isHeld(ocrKey(issue.ID)) {
		return common.ErrAlreadyRunning
	}

	if err := p.Repos.Assets(p.Tx.DB()).Delete(ctx, assetID); err != nil {
		return err
	}

	files := []string{asset.StoredPath}
	if asset.OriginalPath != "" && asset.OriginalPath != asset.StoredPath {
		files = append(files, asset.OriginalPath)
	}
	if issue != nil && issue.ThumbnailPath != "" {
		files = append(files, issue.ThumbnailPath)
	}
	for _, f := range files {
		if err := p.Store.Delete(ctx, f); err != nil {
			p.Logger.Warn(ctx, "failed to delete asset file", "asset_id", assetID, "path", f, "error", err)
		}
	}
	if p.Replica != nil {
		if err := p.Replica.Delete(ctx, asset.StoredPath); err != nil {
			p.Logger.Warn(ctx, "failed to delete replica", "asset_id", assetID, "error", err)
		}
	}

	p.Logger.Info(ctx, "asset deleted", "asset_id", assetID)
	return nil
}

// Recover reconciles persisted status with an empty queue after a restart.
// Runs cut short by the restart are failed so an operator can retry them.
// With a durable queue only the re-enqueue half runs: in-flight runs may
// belong to another instance and the broker still holds their jobs.
func (p *Pipeline) Recover(ctx context.Context) error {
	assetRepo := p.Repos.Assets(p.Tx.DB())
	ocrRepo := p.Repos.OcrResults(p.Tx.DB())
	issueRepo := p.Repos.Issues(p.Tx.DB())

	if !p.cfg.DurableQueue {
		if err := p.failInterrupted(ctx); err != nil {
			return err
		}
	}

	ids, err := assetRepo.ListIDsByStatus(ctx, models.AssetUploaded)
	if err != nil {
		return fmt.Errorf("recover uploaded: %w", err)
	}
	for _, id := range ids {
		if err := p.enqueue(ctx, queue.Job{Stage: queue.StageCompress, AssetID: id}); err != nil {
			return err
		}
	}
	requeued := len(ids)

	ids, err = ocrRepo.ListByStatus(ctx, models.OcrQueued)
	if err != nil {
		return fmt.Errorf("recover ocr queued: %w", err)
	}
	for _, issueID := range ids {
		issue, err := issueRepo.GetByID(ctx, issueID)
		if err != nil {
			continue
		}
		asset, err := assetRepo.GetByID(ctx, issue.FileID)
		if err != nil || asset.Status != models.AssetProcessingOCR {
			continue
		}
		if err := p.enqueue(ctx, queue.Job{Stage: queue.StageOCR, AssetID: asset.ID, IssueID: issueID}); err != nil {
			return err
		}
		requeued++
	}

	p.Logger.Info(ctx, "pipeline recovered", "requeued", requeued)
	return nil
}

// Asset returns the asset with its current pipeline status.
func (p *Pipeline) Asset(ctx context.Context, assetID string) (*models.Asset, error) {
	return p.Repos.Assets(p.Tx.DB()).GetByID(ctx, assetID)
}

func (p *Pipeline) OcrResult(ctx context.Context, issueID string) (*models.OcrResult, error) {
	return p.Repos.OcrResults(p.Tx.DB()).Get(ctx, issueID)
}

func (p *Pipeline) failInterrupted(ctx context.Context) error {
	assetRepo := p.Repos.Assets(p.Tx.DB())
	ocrRepo := p.Repos.OcrResults(p.Tx.DB())
	issueRepo := p.Repos.Issues(p.Tx.DB())
	const interrupted = "interrupted by restart"

	ids, err := assetRepo.ListIDsByStatus(ctx, models.AssetCompressing)
	if err != nil {
		return fmt.Errorf("recover compressing: %w", err)
	}
	for _, id := range ids {
		if err := assetRepo.MarkFailed(ctx, id, models.AssetCompressing, interrupted); err != nil {
			p.Logger.Warn(ctx, "recover: mark failed", "asset_id", id, "error", err)
		}
	}

	ids, err = ocrRepo.ListByStatus(ctx, models.OcrProcessing)
	if err != nil {
		return fmt.Errorf("recover ocr processing: %w", err)
	}
	for _, issueID := range ids {
		issue, err := issueRepo.GetByID(ctx, issueID)
		if err != nil {
			p.Logger.Warn(ctx, "recover: load issue", "issue_id", issueID, "error", err)
			continue
		}
		p.failOCR(ctx, p.Logger, issue.FileID, issueID, errors.New(interrupted))
	}
	return nil
}
