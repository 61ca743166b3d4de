package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/metrics"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/tools"
)

// ocr recognises every page of the asset and owns the asset's terminal
// status: done on success, failed otherwise.
func (p *Pipeline) ocr(ctx context.Context, l logging.Logger, assetID, issueID string) (string, error) {
	release, ok := p.leases.acquire(ocrKey(issueID))
	if !ok {
		return metrics.OutcomeSkipped, common.ErrAlreadyRunning
	}
	defer release()

	asset, err := p.Repos.Assets(p.Tx.DB()).GetByID(ctx, assetID)
	if errors.Is(err, common.ErrNotFound) {
		return metrics.OutcomeSkipped, nil
	}
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	if asset.Status != models.AssetProcessingOCR {
		l.Info(ctx, "asset not awaiting ocr", "status", asset.Status)
		return metrics.OutcomeSkipped, nil
	}

	repo := p.Repos.OcrResults(p.Tx.DB())
	if err := repo.Ensure(ctx, issueID); err != nil {
		return metrics.OutcomeFailed, err
	}
	err = repo.Start(ctx, issueID, p.now())
	if errors.Is(err, common.ErrStatusConflict) {
		return metrics.OutcomeSkipped, nil
	}
	if err != nil {
		return metrics.OutcomeFailed, err
	}

	text, err := p.recognize(ctx, l, asset.StoredPath)
	if err != nil {
		p.failOCR(ctx, l, asset.ID, issueID, err)
		return metrics.OutcomeFailed, err
	}

	err = p.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := p.Repos.OcrResults(tx).Finish(ctx, issueID, text, p.now()); err != nil {
			return err
		}
		return p.Repos.Assets(tx).CompareAndSetStatus(ctx, asset.ID, models.AssetProcessingOCR, models.AssetDone)
	})
	if err != nil {
		err = fmt.Errorf("commit ocr: %w", err)
		p.failOCR(ctx, l, asset.ID, issueID, err)
		return metrics.OutcomeFailed, err
	}

	l.Info(ctx, "ocr finished", "chars", len(text))
	return metrics.OutcomeSuccess, nil
}

// recognize rasterises all pages into scratch space and returns their text in
// page order. The first failing page aborts the run.
func (p *Pipeline) recognize(ctx context.Context, l logging.Logger, logical string) (string, error) {
	ok, err := p.Store.Exists(ctx, logical)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", common.Preconditionf("asset file %s is missing", logical)
	}
	src, err := p.Store.PhysicalPath(logical)
	if err != nil {
		return "", err
	}

	dir, cleanup, err := p.Store.ScratchDir(ctx, "ocr-*")
	if err != nil {
		return "", err
	}
	defer cleanup()

	pages, err := p.Rasterizer.Rasterize(ctx, src, dir, tools.RasterOptions{DPI: p.cfg.OcrDPI, Format: tools.FormatPNG})
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("%w: rasterizer produced no pages", common.ErrToolExecution)
	}

	if p.Pages != nil {
		n, err := p.Pages.PageCount(ctx, src)
		switch {
		case err != nil:
			l.Warn(ctx, "page count unavailable", "error", err)
		case n != len(pages):
			return "", fmt.Errorf("%w: rasterized %d of %d pages", common.ErrToolExecution, len(pages), n)
		}
	}

	texts := make([]string, len(pages))
	for i, page := range pages {
		text, err := p.Recognizer.Recognize(ctx, page)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i+1, err)
		}
		texts[i] = text
	}
	l.Debug(ctx, "pages recognised", "pages", len(pages))
	return strings.Join(texts, p.cfg.PageSeparator), nil
}

func (p *Pipeline) failOCR(ctx context.Context, l logging.Logger, assetID, issueID string, cause error) {
	msg := truncate(cause.Error())
	err := p.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := p.Repos.OcrResults(tx).Fail(ctx, issueID, msg, p.now()); err != nil {
			return err
		}
		return p.Repos.Assets(tx).MarkFailed(ctx, assetID, models.AssetProcessingOCR, truncate("ocr: "+msg))
	})
	if err != nil {
		l.Error(ctx, "failed to record ocr failure", "error", err)
	}
}
