package tools

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/server/toolrunner"
)

// Tesseract recognises one image and returns the text it prints to stdout.
type Tesseract struct {
	Runner   toolrunner.Runner
	Path     string
	Language string
	Timeout  time.Duration
}

func (t *Tesseract) Recognize(ctx context.Context, image string) (string, error) {
	lang := t.Language
	if lang == "" {
		lang = "rus"
	}
	res, err := t.Runner.Run(ctx, toolrunner.Invocation{
		Tool:    "tesseract",
		Path:    t.Path,
		Args:    []string{image, "stdout", "-l", lang},
		Timeout: timeoutOr(t.Timeout),
	})
	if err != nil {
		return "", err
	}
	// tesseract terminates every page with a form feed
	return strings.TrimRight(string(res.Stdout), " \t\r\n\f"), nil
}
