package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

// ImportOptions describes one bulk import of a directory of PDFs.
type ImportOptions struct {
	Dir    string
	Meta   models.IssueMetadata
	UserID string
	// Wait runs the in-process queue until every imported asset is done or
	// failed. With a broker queue the jobs are left to the running servers.
	Wait         bool
	PollInterval time.Duration
}

type ImportResult struct {
	Imported int
	Rejected int
	Done     int
	Failed   int
}

// Import registers every *.pdf file in opts.Dir as an issue and schedules its
// compression. A file that cannot be imported is logged and skipped.
func (app *App) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	files, err := pdfFiles(opts.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, common.Validationf("no PDF files in %s", opts.Dir)
	}

	l := app.logger.With("module", "importer", "dir", opts.Dir)
	wait := opts.Wait && len(app.config.RocketMQNameServers) == 0

	stopped := make(chan error, 1)
	qctx, stop := context.WithCancel(ctx)
	defer stop()
	if wait {
		go func() { stopped <- app.queue.Run(qctx, app.pipeline.Handle) }()
	}

	res := &ImportResult{}
	var assetIDs []string
	for _, name := range files {
		issue, err := app.importFile(ctx, name, opts)
		if err != nil {
			res.Rejected++
			l.Error(ctx, "import failed", "file", name, "error", err)
			continue
		}
		res.Imported++
		assetIDs = append(assetIDs, issue.FileID)
	}
	l.Info(ctx, "files imported", "imported", res.Imported, "rejected", res.Rejected)

	if !wait {
		return res, nil
	}

	err = app.waitSettled(ctx, assetIDs, opts.PollInterval, res)
	stop()
	if qerr := <-stopped; qerr != nil && err == nil {
		err = qerr
	}
	l.Info(ctx, "processing finished", "done", res.Done, "failed", res.Failed)
	return res, err
}

func (app *App) importFile(ctx context.Context, name string, opts ImportOptions) (*models.Issue, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return app.uploads.Import(ctx, filepath.Base(name), f, opts.Meta, opts.UserID)
}

// waitSettled polls asset status until none of ids is still in flight.
func (app *App) waitSettled(ctx context.Context, ids []string, every time.Duration, res *ImportResult) error {
	if every <= 0 {
		every = time.Second
	}
	assets := app.repos.Assets(app.tx.DB())
	pending := ids

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		left := pending[:0]
		for _, id := range pending {
			a, err := assets.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					res.Failed++
					continue
				}
				return fmt.Errorf("load asset %s: %w", id, err)
			}
			switch a.Status {
			case models.AssetDone:
				res.Done++
			case models.AssetFailed:
				res.Failed++
			default:
				left = append(left, id)
			}
		}
		pending = left
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pdfFiles lists regular *.pdf files directly inside dir, sorted by name.
func pdfFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
