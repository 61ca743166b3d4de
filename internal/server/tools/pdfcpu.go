package tools

import (
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// PdfcpuOptimizer is an in-process Compressor. It deduplicates resources
// but does not resample images, so it saves less than ghostscript.
type PdfcpuOptimizer struct{}

func (PdfcpuOptimizer) Compress(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := api.OptimizeFile(in, out, relaxedConfig()); err != nil {
		return fmt.Errorf("pdfcpu optimize: %w", err)
	}
	return nil
}

// PdfcpuPageCounter counts pages without spawning a process.
type PdfcpuPageCounter struct{}

func (PdfcpuPageCounter) PageCount(ctx context.Context, pdf string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCountFile(pdf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu page count: %w", err)
	}
	return n, nil
}
