// Package pipeline turns an uploaded PDF into a compressed, thumbnailed and
// text-indexed archive asset. Each stage reads the previous stage's committed
// output, persists its own result with a status transition, and only then
// enqueues what comes next. Nothing is retried automatically.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/pressarchive/internal/server/metrics"
	"github.com/dmitrijs2005/pressarchive/internal/server/queue"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/pressarchive/internal/server/tools"
)

const maxErrorMessage = 1000

// Config holds the stage parameters.
type Config struct {
	OptimizedDir  string
	ThumbnailDir  string
	ThumbDPI      int
	ThumbWidth    int
	ThumbQuality  int
	OcrDPI        int
	PageSeparator string
	// SkipCompression commits the uploaded PDF unchanged instead of running
	// the compressor.
	SkipCompression bool
	// DurableQueue is set when jobs live in a broker shared by several
	// instances. Recover then leaves compressing and processing runs alone,
	// since another instance may still own them.
	DurableQueue bool
}

func DefaultConfig() Config {
	return Config{
		OptimizedDir:  "pdf/optimized",
		ThumbnailDir:  "thumbnails",
		ThumbDPI:      72,
		ThumbWidth:    400,
		ThumbQuality:  85,
		OcrDPI:        200,
		PageSeparator: "\n\f\n",
	}
}

// Deps are the collaborators of a Pipeline. Replica and Pages are optional.
type Deps struct {
	Tx         dbx.Transactor
	Repos      repomanager.RepositoryManager
	Store      blobstore.Local
	Replica    blobstore.Store
	Compressor tools.Compressor
	Rasterizer tools.Rasterizer
	Recognizer tools.Recognizer
	Pages      tools.PageCounter
	Queue      queue.Enqueuer
	Metrics    *metrics.Metrics
	Logger     logging.Logger
}

type Pipeline struct {
	Deps
	cfg    Config
	leases *leases
	now    func() time.Time
}

func New(d Deps, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.OptimizedDir == "" {
		cfg.OptimizedDir = def.OptimizedDir
	}
	if cfg.ThumbnailDir == "" {
		cfg.ThumbnailDir = def.ThumbnailDir
	}
	if cfg.ThumbDPI <= 0 {
		cfg.ThumbDPI = def.ThumbDPI
	}
	if cfg.ThumbWidth <= 0 {
		cfg.ThumbWidth = def.ThumbWidth
	}
	if cfg.ThumbQuality <= 0 || cfg.ThumbQuality > 100 {
		cfg.ThumbQuality = def.ThumbQuality
	}
	if cfg.OcrDPI <= 0 {
		cfg.OcrDPI = def.OcrDPI
	}
	if cfg.PageSeparator == "" {
		cfg.PageSeparator = def.PageSeparator
	}
	d.Logger = d.Logger.With("module", "pipeline")

	return &Pipeline{
		Deps:   d,
		cfg:    cfg,
		leases: newLeases(),
		now:    time.Now,
	}
}

// Handle runs one queued job. It is the queue.Handler of the server.
func (p *Pipeline) Handle(ctx context.Context, job queue.Job) {
	l := p.Logger.With("stage", job.Stage, "asset_id", job.AssetID, "issue_id", job.IssueID)
	start := p.now()

	var (
		outcome string
		err     error
	)
	switch job.Stage {
	case queue.StageCompress:
		outcome, err = p.compress(ctx, l, job.AssetID)
	case queue.StageThumbnail:
		outcome, err = p.thumbnail(ctx, l, job.IssueID)
	case queue.StageOCR:
		outcome, err = p.ocr(ctx, l, job.AssetID, job.IssueID)
	case queue.StageReplicate:
		outcome, err = p.replicate(ctx, l, job.AssetID)
	default:
		l.Error(ctx, "unknown stage")
		return
	}

	elapsed := p.now().Sub(start)
	p.Metrics.ObserveStage(string(job.Stage), outcome, elapsed)

	switch {
	case errors.Is(err, common.ErrAlreadyRunning):
		l.Info(ctx, "stage skipped, another run holds the lease")
	case err != nil && (job.Stage == queue.StageThumbnail || job.Stage == queue.StageReplicate):
		l.Warn(ctx, "stage failed, pipeline continues", "error", err)
	case err != nil:
		l.Error(ctx, "stage failed", "error", err, "elapsed", elapsed)
	default:
		l.Info(ctx, "stage finished", "outcome", outcome, "elapsed", elapsed)
	}
}

func (p *Pipeline) enqueue(ctx context.Context, job queue.Job) error {
	if err := p.Queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job, err)
	}
	return nil
}

func truncate(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	return msg[:maxErrorMessage]
}
