package pipeline

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/metrics"
)

// replicate copies the committed asset bytes to the replica store.
func (p *Pipeline) replicate(ctx context.Context, l logging.Logger, assetID string) (string, error) {
	if p.Replica == nil {
		return metrics.OutcomeSkipped, nil
	}

	asset, err := p.Repos.Assets(p.Tx.DB()).GetByID(ctx, assetID)
	if errors.Is(err, common.ErrNotFound) {
		return metrics.OutcomeSkipped, nil
	}
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	if !asset.CompressionCommitted() {
		return metrics.OutcomeSkipped, nil
	}

	if ok, err := p.Replica.Exists(ctx, asset.StoredPath); err == nil && ok {
		return metrics.OutcomeSkipped, nil
	}

	r, err := p.Store.Read(ctx, asset.StoredPath)
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	defer r.Close()

	n, err := p.Replica.Write(ctx, asset.StoredPath, r)
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	l.Info(ctx, "asset replicated", "path", asset.StoredPath, "bytes", n)
	return metrics.OutcomeSuccess, nil
}
