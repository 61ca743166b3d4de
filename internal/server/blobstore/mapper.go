package blobstore

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/pressarchive/internal/common"
)

// PathMapper translates logical paths into physical paths under Root and into
// internal-redirect URIs under RedirectPrefix.
type PathMapper struct {
	Root           string
	RedirectPrefix string
}

// Clean normalises a logical path and rejects anything escaping the root.
func Clean(p string) (string, error) {
	p = strings.TrimLeft(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
	if p == "" || p == "." || !filepath.IsLocal(filepath.FromSlash(p)) {
		return "", fmt.Errorf("%w: bad storage path %q", common.ErrValidation, p)
	}
	return p, nil
}

func (m PathMapper) PhysicalPath(p string) (string, error) {
	clean, err := Clean(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.Root, filepath.FromSlash(clean)), nil
}

// RedirectPath builds the URI a reverse proxy resolves internally, e.g.
// "/_protected/pdf/optimized/x.pdf".
func (m PathMapper) RedirectPath(p string) string {
	clean, err := Clean(p)
	if err != nil {
		return ""
	}
	prefix := "/" + strings.Trim(m.RedirectPrefix, "/")
	if prefix == "/" {
		return prefix + clean
	}
	return prefix + "/" + clean
}
