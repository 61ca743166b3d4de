package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/metrics"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/queue"
	"github.com/google/uuid"
)

// compress shrinks the asset's input PDF and commits whichever of input and
// output is smaller. The input is deleted only after the new bytes are
// verified and committed. With compression switched off the input is
// committed as is.
func (p *Pipeline) compress(ctx context.Context, l logging.Logger, assetID string) (string, error) {
	release, ok := p.leases.acquire(assetKey(assetID))
	if !ok {
		return metrics.OutcomeSkipped, common.ErrAlreadyRunning
	}
	defer release()

	assetRepo := p.Repos.Assets(p.Tx.DB())
	asset, err := assetRepo.GetByID(ctx, assetID)
	if errors.Is(err, common.ErrNotFound) {
		return metrics.OutcomeSkipped, nil
	}
	if err != nil {
		return metrics.OutcomeFailed, err
	}

	switch asset.Status {
	case models.AssetUploaded:
		err := assetRepo.CompareAndSetStatus(ctx, asset.ID, models.AssetUploaded, models.AssetCompressing)
		if errors.Is(err, common.ErrStatusConflict) {
			return metrics.OutcomeSkipped, nil
		}
		if err != nil {
			return metrics.OutcomeFailed, err
		}
	case models.AssetCompressing:
		// claimed by an operator retry
	default:
		return metrics.OutcomeSkipped, nil
	}

	input := asset.OriginalPath
	if input == "" {
		input = asset.StoredPath
	}
	inInfo, err := p.Store.Stat(ctx, input)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			err = common.Preconditionf("input %s is missing", input)
		}
		return metrics.OutcomeFailed, p.failCompression(ctx, l, asset.ID, err)
	}

	if p.cfg.SkipCompression {
		l.Info(ctx, "compression disabled, committing input unchanged", "size", inInfo.Size)
		if err := p.commitCompression(ctx, l, asset, input, inInfo.Size, asset.SHA256); err != nil {
			return metrics.OutcomeFailed, err
		}
		return metrics.OutcomeDisabled, nil
	}

	output := path.Join(p.cfg.OptimizedDir, uuid.NewString()+".pdf")
	part := output + ".part"
	committed := false
	defer func() {
		_ = p.Store.Delete(context.WithoutCancel(ctx), part)
		if !committed {
			_ = p.Store.Delete(context.WithoutCancel(ctx), output)
		}
	}()

	outSize, err := p.runCompressor(ctx, l, input, part)
	if err != nil {
		return metrics.OutcomeFailed, p.failCompression(ctx, l, asset.ID, err)
	}

	if outSize >= inInfo.Size {
		l.Info(ctx, "compressed output not smaller, keeping input", "input_size", inInfo.Size, "output_size", outSize)
		if err := p.commitCompression(ctx, l, asset, input, inInfo.Size, asset.SHA256); err != nil {
			return metrics.OutcomeFailed, err
		}
		return metrics.OutcomeKept, nil
	}

	sum, err := p.checksum(ctx, part)
	if err != nil {
		return metrics.OutcomeFailed, p.failCompression(ctx, l, asset.ID, err)
	}
	if err := p.Store.Move(ctx, part, output); err != nil {
		return metrics.OutcomeFailed, p.failCompression(ctx, l, asset.ID, err)
	}
	if err := p.commitCompression(ctx, l, asset, output, outSize, sum); err != nil {
		return metrics.OutcomeFailed, err
	}
	committed = true

	if err := p.Store.Delete(ctx, input); err != nil {
		l.Warn(ctx, "failed to delete compression input", "path", input, "error", err)
	}
	l.Info(ctx, "asset compressed", "input_size", inInfo.Size, "output_size", outSize, "saved", inInfo.Size-outSize)
	return metrics.OutcomeSuccess, nil
}

// commitCompression records stored as the canonical file, propagates its size
// to the issue and fans out the follow-up stages. A failed commit fails the
// asset and leaves the previous paths untouched.
func (p *Pipeline) commitCompression(ctx context.Context, l logging.Logger, asset *models.Asset, stored string, size int64, sum string) error {
	var issue *models.Issue
	err := p.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := p.Repos.Assets(tx).CommitCompression(ctx, asset.ID, stored, size, sum); err != nil {
			return err
		}
		issueRepo := p.Repos.Issues(tx)
		i, err := issueRepo.GetByAssetID(ctx, asset.ID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		issue = i
		return issueRepo.UpdateFileStats(ctx, i.ID, size, asset.MimeType)
	})
	if err != nil {
		return p.failCompression(ctx, l, asset.ID, fmt.Errorf("commit compression: %w", err))
	}

	p.afterCompression(ctx, l, asset.ID, issue)
	return nil
}

func (p *Pipeline) runCompressor(ctx context.Context, l logging.Logger, input, part string) (int64, error) {
	in, err := p.Store.PhysicalPath(input)
	if err != nil {
		return 0, err
	}
	out, err := p.Store.PhysicalPath(part)
	if err != nil {
		return 0, err
	}
	if err := p.Store.MkdirAll(ctx, path.Dir(part)); err != nil {
		return 0, err
	}

	l.Debug(ctx, "running compressor", "input", in, "output", out)
	if err := p.Compressor.Compress(ctx, in, out); err != nil {
		return 0, err
	}

	info, err := p.Store.Stat(ctx, part)
	if err != nil {
		return 0, fmt.Errorf("%w: compressor produced no output", common.ErrToolExecution)
	}
	if info.Size == 0 {
		return 0, fmt.Errorf("%w: compressor produced an empty file", common.ErrToolExecution)
	}
	return info.Size, nil
}

func (p *Pipeline) checksum(ctx context.Context, logical string) (string, error) {
	r, err := p.Store.Read(ctx, logical)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// failCompression records the failure on the asset and returns cause. The
// original input is left in place so an operator retry can start over.
func (p *Pipeline) failCompression(ctx context.Context, l logging.Logger, assetID string, cause error) error {
	err := p.Repos.Assets(p.Tx.DB()).MarkFailed(ctx, assetID, models.AssetCompressing, truncate(cause.Error()))
	if err != nil {
		l.Error(ctx, "failed to mark asset failed", "error", err)
	}
	return cause
}

// afterCompression fans out the follow-up stages. Thumbnail and replication
// failures to enqueue are tolerated; an OCR enqueue failure fails the asset so
// that a retry is possible.
func (p *Pipeline) afterCompression(ctx context.Context, l logging.Logger, assetID string, issue *models.Issue) {
	if issue == nil {
		l.Warn(ctx, "asset has no issue, skipping ocr")
		if err := p.Repos.Assets(p.Tx.DB()).CompareAndSetStatus(ctx, assetID, models.AssetProcessingOCR, models.AssetDone); err != nil {
			l.Error(ctx, "failed to finish asset", "error", err)
		}
		return
	}

	if err := p.enqueue(ctx, queue.Job{Stage: queue.StageThumbnail, AssetID: assetID, IssueID: issue.ID}); err != nil {
		l.Warn(ctx, "thumbnail not scheduled", "error", err)
	}

	if err := p.requeueOCR(ctx, issue.ID); err != nil {
		p.failOCRDispatch(ctx, l, assetID, err)
		return
	}
	if err := p.enqueue(ctx, queue.Job{Stage: queue.StageOCR, AssetID: assetID, IssueID: issue.ID}); err != nil {
		p.failOCRDispatch(ctx, l, assetID, err)
		return
	}

	if p.Replica != nil {
		if err := p.enqueue(ctx, queue.Job{Stage: queue.StageReplicate, AssetID: assetID}); err != nil {
			l.Warn(ctx, "replication not scheduled", "error", err)
		}
	}
}

// requeueOCR makes sure the issue has an OcrResult in queued state.
func (p *Pipeline) requeueOCR(ctx context.Context, issueID string) error {
	repo := p.Repos.OcrResults(p.Tx.DB())
	if err := repo.Ensure(ctx, issueID); err != nil {
		return err
	}
	res, err := repo.Get(ctx, issueID)
	if err != nil {
		return err
	}
	switch res.Status {
	case models.OcrQueued:
		return nil
	case models.OcrProcessing:
		return common.ErrAlreadyRunning
	default:
		return repo.Requeue(ctx, issueID)
	}
}

func (p *Pipeline) failOCRDispatch(ctx context.Context, l logging.Logger, assetID string, cause error) {
	l.Error(ctx, "ocr not scheduled", "error", cause)
	err := p.Repos.Assets(p.Tx.DB()).MarkFailed(ctx, assetID, models.AssetProcessingOCR, truncate("ocr dispatch: "+cause.Error()))
	if err != nil {
		l.Error(ctx, "failed to mark asset failed", "error", err)
	}
}
