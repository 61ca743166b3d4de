// Package tools adapts the external PDF programs to the narrow interfaces the
// pipeline depends on. Every program runs through a toolrunner.Runner so tests
// never spawn real subprocesses.
package tools

import (
	"context"
	"time"
)

// Compressor rewrites the PDF at in into a smaller PDF at out.
type Compressor interface {
	Compress(ctx context.Context, in, out string) error
}

// RasterOptions selects pages and resolution. Zero pages mean "all".
type RasterOptions struct {
	DPI       int
	FirstPage int
	LastPage  int
	Format    ImageFormat
}

type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// Rasterizer renders PDF pages into outDir and returns the image paths in
// page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf, outDir string, opts RasterOptions) ([]string, error)
}

// Recognizer extracts text from one page image.
type Recognizer interface {
	Recognize(ctx context.Context, image string) (string, error)
}

// PageCounter reports the number of pages in a PDF.
type PageCounter interface {
	PageCount(ctx context.Context, pdf string) (int, error)
}

const defaultTimeout = 5 * time.Minute

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
