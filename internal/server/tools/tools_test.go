package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/server/toolrunner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls  []toolrunner.Invocation
	result *toolrunner.Result
	err    error
	effect func(inv toolrunner.Invocation)
}

func (f *fakeRunner) Run(_ context.Context, inv toolrunner.Invocation) (*toolrunner.Result, error) {
	f.calls = append(f.calls, inv)
	if f.effect != nil {
		f.effect(inv)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &toolrunner.Result{}, nil
	}
	return f.result, nil
}

func TestGhostscript_Args(t *testing.T) {
	r := &fakeRunner{}
	gs := &Ghostscript{Runner: r, Path: "/usr/bin/gs", Profile: "screen", Timeout: time.Minute}

	require.NoError(t, gs.Compress(context.Background(), "/in.pdf", "/out.pdf"))
	require.Len(t, r.calls, 1)
	inv := r.calls[0]
	assert.Equal(t, "/usr/bin/gs", inv.Path)
	assert.Equal(t, time.Minute, inv.Timeout)
	assert.Equal(t, []string{
		"-sDEVICE=pdfwrite", "-dCompatibilityLevel=1.4", "-dPDFSETTINGS=/screen",
		"-dNOPAUSE", "-dQUIET", "-dBATCH", "-sOutputFile=/out.pdf", "/in.pdf",
	}, inv.Args)
}

func TestGhostscript_GrayscaleAndDefaults(t *testing.T) {
	r := &fakeRunner{}
	gs := &Ghostscript{Runner: r, Path: "gs", Grayscale: true}

	require.NoError(t, gs.Compress(context.Background(), "in.pdf", "out.pdf"))
	inv := r.calls[0]
	assert.Contains(t, inv.Args, "-dPDFSETTINGS=/ebook")
	assert.Contains(t, inv.Args, "-sColorConversionStrategy=Gray")
	assert.Contains(t, inv.Args, "-dProcessColorModel=/DeviceGray")
	assert.Equal(t, "in.pdf", inv.Args[len(inv.Args)-1])
	assert.Equal(t, defaultTimeout, inv.Timeout)
}

func TestGhostscript_PropagatesToolError(t *testing.T) {
	r := &fakeRunner{err: &common.ToolError{Tool: "ghostscript", TimedOut: true}}
	gs := &Ghostscript{Runner: r, Path: "gs"}

	err := gs.Compress(context.Background(), "in.pdf", "out.pdf")
	require.ErrorIs(t, err, common.ErrToolExecution)
}

func TestPdftoppm_ArgsAndPageOrder(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{effect: func(inv toolrunner.Invocation) {
		prefix := inv.Args[len(inv.Args)-1]
		for _, n := range []string{"01", "02", "10", "09"} {
			require.NoError(t, os.WriteFile(prefix+"-"+n+".png", []byte("x"), 0o600))
		}
		require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(prefix), "notes.txt"), nil, 0o600))
	}}
	p := &Pdftoppm{Runner: r, Path: "pdftoppm"}

	pages, err := p.Rasterize(context.Background(), "/a/issue.pdf", dir, RasterOptions{DPI: 200})
	require.NoError(t, err)

	assert.Equal(t, []string{"-png", "-r", "200", "/a/issue.pdf", filepath.Join(dir, "page")}, r.calls[0].Args)
	require.Len(t, pages, 4)
	assert.Equal(t, filepath.Join(dir, "page-01.png"), pages[0])
	assert.Equal(t, filepath.Join(dir, "page-09.png"), pages[2])
	assert.Equal(t, filepath.Join(dir, "page-10.png"), pages[3])
}

func TestPdftoppm_FirstPageOnly(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{effect: func(inv toolrunner.Invocation) {
		require.NoError(t, os.WriteFile(inv.Args[len(inv.Args)-1]+"-1.jpg", []byte("x"), 0o600))
	}}
	p := &Pdftoppm{Runner: r, Path: "pdftoppm"}

	pages, err := p.Rasterize(context.Background(), "in.pdf", dir, RasterOptions{DPI: 72, FirstPage: 1, LastPage: 1, Format: FormatJPEG})
	require.NoError(t, err)
	assert.Equal(t, []string{"-jpeg", "-r", "72", "-f", "1", "-l", "1", "in.pdf", filepath.Join(dir, "page")}, r.calls[0].Args)
	assert.Len(t, pages, 1)
}

func TestPdftoppm_NoOutput(t *testing.T) {
	p := &Pdftoppm{Runner: &fakeRunner{}, Path: "pdftoppm"}

	_, err := p.Rasterize(context.Background(), "in.pdf", t.TempDir(), RasterOptions{})
	require.ErrorContains(t, err, "no pages")
}

func TestPdftoppm_ToolFailure(t *testing.T) {
	p := &Pdftoppm{Runner: &fakeRunner{err: errors.New("boom")}, Path: "pdftoppm"}

	_, err := p.Rasterize(context.Background(), "in.pdf", t.TempDir(), RasterOptions{})
	require.EqualError(t, err, "boom")
}

func TestPageNumber(t *testing.T) {
	n, ok := pageNumber("page-007.png")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = pageNumber("page.png")
	assert.False(t, ok)
	_, ok = pageNumber("page-x.png")
	assert.False(t, ok)
	_, ok = pageNumber("thumb-1.png")
	assert.False(t, ok)
}

func TestTesseract_Recognize(t *testing.T) {
	r := &fakeRunner{result: &toolrunner.Result{Stdout: []byte("Правда\nстрока\n\f")}}
	ts := &Tesseract{Runner: r, Path: "tesseract", Language: "rus+kaz"}

	text, err := ts.Recognize(context.Background(), "/tmp/page-1.png")
	require.NoError(t, err)
	assert.Equal(t, "Правда\nстрока", text)
	assert.Equal(t, []string{"/tmp/page-1.png", "stdout", "-l", "rus+kaz"}, r.calls[0].Args)
}

func TestTesseract_DefaultLanguageAndError(t *testing.T) {
	r := &fakeRunner{err: &common.ToolError{Tool: "tesseract", ExitCode: 1}}
	ts := &Tesseract{Runner: r, Path: "tesseract"}

	_, err := ts.Recognize(context.Background(), "p.png")
	require.ErrorIs(t, err, common.ErrToolExecution)
	assert.Equal(t, "rus", r.calls[0].Args[3])
}

func TestPdfcpu_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, PdfcpuOptimizer{}.Compress(ctx, "a", "b"), context.Canceled)
	_, err := PdfcpuPageCounter{}.PageCount(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPdfcpu_MissingFile(t *testing.T) {
	_, err := PdfcpuPageCounter{}.PageCount(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.ErrorContains(t, err, "pdfcpu page count")
}
