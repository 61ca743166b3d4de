package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/server/toolrunner"
)

const pagePrefix = "page"

// Pdftoppm renders pages with poppler's pdftoppm. Output files are named
// page-N.ext, with N zero-padded to the width of the page count.
type Pdftoppm struct {
	Runner  toolrunner.Runner
	Path    string
	Timeout time.Duration
}

func (p *Pdftoppm) args(pdf, outDir string, opts RasterOptions) []string {
	format := opts.Format
	if format == "" {
		format = FormatPNG
	}
	args := []string{"-" + string(format)}
	if opts.DPI > 0 {
		args = append(args, "-r", strconv.Itoa(opts.DPI))
	}
	if opts.FirstPage > 0 {
		args = append(args, "-f", strconv.Itoa(opts.FirstPage))
	}
	if opts.LastPage > 0 {
		args = append(args, "-l", strconv.Itoa(opts.LastPage))
	}
	return append(args, pdf, filepath.Join(outDir, pagePrefix))
}

func (p *Pdftoppm) Rasterize(ctx context.Context, pdf, outDir string, opts RasterOptions) ([]string, error) {
	_, err := p.Runner.Run(ctx, toolrunner.Invocation{
		Tool:    "pdftoppm",
		Path:    p.Path,
		Args:    p.args(pdf, outDir, opts),
		Timeout: timeoutOr(p.Timeout),
	})
	if err != nil {
		return nil, err
	}

	pages, err := collectPages(outDir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages for %s", filepath.Base(pdf))
	}
	return pages, nil
}

// collectPages lists page-N.* files in numeric page order, so page-10 sorts
// after page-9 whatever the padding.
func collectPages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := pageNumber(e.Name())
		if !ok {
			continue
		}
		pages = append(pages, page{n: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}

func pageNumber(name string) (int, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	num, ok := strings.CutPrefix(base, pagePrefix+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, false
	}
	return n, true
}
