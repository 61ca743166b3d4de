package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/metrics"
	"github.com/dmitrijs2005/pressarchive/internal/server/tools"
	"golang.org/x/image/draw"
)

// thumbnail renders the first page of the issue's current asset into a JPEG
// preview. Failures never touch asset status.
func (p *Pipeline) thumbnail(ctx context.Context, l logging.Logger, issueID string) (string, error) {
	release, ok := p.leases.acquire(thumbKey(issueID))
	if !ok {
		return metrics.OutcomeSkipped, common.ErrAlreadyRunning
	}
	defer release()

	issueRepo := p.Repos.Issues(p.Tx.DB())
	issue, err := issueRepo.GetByID(ctx, issueID)
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	asset, err := p.Repos.Assets(p.Tx.DB()).GetByID(ctx, issue.FileID)
	if err != nil {
		return metrics.OutcomeFailed, err
	}

	src, err := p.Store.PhysicalPath(asset.StoredPath)
	if err != nil {
		return metrics.OutcomeFailed, err
	}

	dir, cleanup, err := p.Store.ScratchDir(ctx, "thumb-*")
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	defer cleanup()

	pages, err := p.Rasterizer.Rasterize(ctx, src, dir, tools.RasterOptions{
		DPI:       p.cfg.ThumbDPI,
		FirstPage: 1,
		LastPage:  1,
		Format:    tools.FormatPNG,
	})
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	if len(pages) == 0 {
		return metrics.OutcomeFailed, fmt.Errorf("%w: rasterizer produced no image", common.ErrToolExecution)
	}

	var buf bytes.Buffer
	if err := renderThumbnail(pages[0], p.cfg.ThumbWidth, p.cfg.ThumbQuality, &buf); err != nil {
		return metrics.OutcomeFailed, err
	}

	target := path.Join(p.cfg.ThumbnailDir, fmt.Sprintf("issue_%s.jpg", issue.ID))
	if _, err := p.Store.Write(ctx, target, &buf); err != nil {
		return metrics.OutcomeFailed, err
	}
	if err := issueRepo.SetThumbnail(ctx, issue.ID, target); err != nil {
		return metrics.OutcomeFailed, err
	}

	l.Debug(ctx, "thumbnail written", "path", target)
	return metrics.OutcomeSuccess, nil
}

func renderThumbnail(page string, width, quality int, w *bytes.Buffer) error {
	f, err := os.Open(page)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode page image: %w", err)
	}
	return jpeg.Encode(w, scaleToWidth(img, width), &jpeg.Options{Quality: quality})
}

// scaleToWidth resamples img to the given width keeping its aspect ratio,
// flattened onto white so transparent scans do not turn black in JPEG.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	height := 1
	if b.Dx() > 0 {
		height = max(1, (b.Dy()*width+b.Dx()/2)/b.Dx())
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
