package tools

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/server/toolrunner"
)

// Ghostscript compresses through pdfwrite with a PDFSETTINGS profile
// (screen, ebook, printer, prepress, default).
type Ghostscript struct {
	Runner    toolrunner.Runner
	Path      string
	Profile   string
	Grayscale bool
	Timeout   time.Duration
}

func (g *Ghostscript) args(in, out string) []string {
	profile := g.Profile
	if profile == "" {
		profile = "ebook"
	}
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=/" + profile,
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + out,
	}
	if g.Grayscale {
		args = append(args, "-sColorConversionStrategy=Gray", "-dProcessColorModel=/DeviceGray")
	}
	return append(args, in)
}

func (g *Ghostscript) Compress(ctx context.Context, in, out string) error {
	_, err := g.Runner.Run(ctx, toolrunner.Invocation{
		Tool:    "ghostscript",
		Path:    g.Path,
		Args:    g.args(in, out),
		Timeout: timeoutOr(g.Timeout),
	})
	return err
}
