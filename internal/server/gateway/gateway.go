// Package gateway turns an authorized read of an asset into either a
// reverse-proxy internal redirect or a direct ranged stream, so large PDFs
// never have to be buffered in process memory.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
)

type Mode string

const (
	// ModeAccel always answers with an X-Accel-Redirect and no body.
	ModeAccel Mode = "accel"
	// ModeDirect streams the file from this process.
	ModeDirect Mode = "direct"
	// ModeAuto uses accel only when the proxy announces itself.
	ModeAuto Mode = "auto"
	// ModePresign redirects to a presigned replica URL when the replica has
	// the object, and streams directly otherwise.
	ModePresign Mode = "presign"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAccel, ModeDirect, ModeAuto, ModePresign:
		return m, nil
	}
	return "", fmt.Errorf("unknown serve mode %q", s)
}

type Disposition string

const (
	Inline     Disposition = "inline"
	Attachment Disposition = "attachment"
)

const (
	headerAccelRedirect = "X-Accel-Redirect"
	headerSendfileType  = "X-Sendfile-Type"
)

// Presigner hands out time-limited URLs for objects held by a replica.
type Presigner interface {
	Exists(ctx context.Context, path string) (bool, error)
	PresignGet(ctx context.Context, path, disposition string) (string, error)
}

type Gateway struct {
	store     blobstore.Local
	auth      Authorizer
	presigner Presigner
	mode      Mode
	logger    logging.Logger
}

// New builds a Gateway. presigner may be nil unless mode is ModePresign.
func New(store blobstore.Local, auth Authorizer, presigner Presigner, mode Mode, l logging.Logger) (*Gateway, error) {
	if mode == ModePresign && presigner == nil {
		return nil, errors.New("presign mode needs an object store replica")
	}
	return &Gateway{
		store:     store,
		auth:      auth,
		presigner: presigner,
		mode:      mode,
		logger:    l.With("module", "gateway"),
	}, nil
}

// Serve writes the response for asset. Errors are returned before anything is
// written, so the caller can still render them.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, caller Caller, asset *models.Asset, disp Disposition) error {
	ctx := r.Context()

	ok, err := g.auth.CanRead(ctx, caller, asset)
	if err != nil {
		return err
	}
	if !ok {
		if caller.Anonymous() {
			return common.ErrUnauthorized
		}
		return common.ErrForbidden
	}

	info, err := g.store.Stat(ctx, asset.StoredPath)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			g.logger.Error(ctx, "asset file missing", "asset_id", asset.ID, "path", asset.StoredPath)
		}
		return err
	}
	if info.IsDir {
		return fmt.Errorf("%w: %s", common.ErrNotFound, asset.StoredPath)
	}

	mode := g.resolve(r)
	if mode == ModePresign {
		url, err := g.presign(ctx, asset, disp)
		if err != nil {
			g.logger.Warn(ctx, "presign unavailable, streaming directly", "asset_id", asset.ID, "error", err)
		}
		if url != "" {
			setPrivate(w.Header())
			http.Redirect(w, r, url, http.StatusFound)
			return nil
		}
		mode = ModeDirect
	}

	h := w.Header()
	setPrivate(h)
	h.Set("Content-Type", contentType(asset))
	h.Set("Content-Disposition", ContentDisposition(disp, asset.OriginalName))
	h.Set("Accept-Ranges", "bytes")

	g.logger.Info(ctx, "asset served", "asset_id", asset.ID, "user_id", caller.UserID, "mode", mode, "disposition", disp)

	if mode == ModeAccel {
		h.Set(headerAccelRedirect, g.store.RedirectPath(asset.StoredPath))
		h.Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.WriteHeader(http.StatusOK)
		return nil
	}

	rc, err := g.store.Read(ctx, asset.StoredPath)
	if err != nil {
		return err
	}
	defer rc.Close()
	rs, ok := rc.(io.ReadSeeker)
	if !ok {
		return fmt.Errorf("%w: store reader is not seekable", common.ErrInternal)
	}
	http.ServeContent(w, r, "", info.ModTime, rs)
	return nil
}

func (g *Gateway) resolve(r *http.Request) Mode {
	if g.mode != ModeAuto {
		return g.mode
	}
	if strings.EqualFold(r.Header.Get(headerSendfileType), headerAccelRedirect) {
		return ModeAccel
	}
	return ModeDirect
}

func (g *Gateway) presign(ctx context.Context, asset *models.Asset, disp Disposition) (string, error) {
	ok, err := g.presigner.Exists(ctx, asset.StoredPath)
	if err != nil || !ok {
		return "", err
	}
	return g.presigner.PresignGet(ctx, asset.StoredPath, ContentDisposition(disp, asset.OriginalName))
}

func setPrivate(h http.Header) {
	h.Set("Cache-Control", "private, no-store, no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

func contentType(a *models.Asset) string {
	if a.MimeType != "" {
		return a.MimeType
	}
	return "application/pdf"
}

// ContentDisposition renders a header value with a quoted ASCII fallback and
// an RFC 5987 filename* carrying the real UTF-8 name.
func ContentDisposition(disp Disposition, name string) string {
	if name == "" {
		name = "document.pdf"
	}
	var fallback strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\' || r < 0x20 || r > 0x7e:
			fallback.WriteByte('_')
		default:
			fallback.WriteRune(r)
		}
	}
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, disp, fallback.String(), encodeRFC5987(name))
}

func encodeRFC5987(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
