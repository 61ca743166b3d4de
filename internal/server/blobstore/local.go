package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/dmitrijs2005/pressarchive/internal/common"
)

const scratchRoot = "tmp"

// LocalStore keeps blobs under a root directory.
type LocalStore struct {
	PathMapper
}

func NewLocalStore(root, redirectPrefix string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	return &LocalStore{PathMapper: PathMapper{Root: abs, RedirectPrefix: redirectPrefix}}, nil
}

func notFound(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", common.ErrNotFound, p)
	}
	return err
}

// Write streams r into a temp file next to the destination and renames it
// into place, so readers never observe a half-written blob.
func (s *LocalStore) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dst, err := s.PhysicalPath(p)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".part-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", p, err)
	}
	return n, nil
}

func (s *LocalStore) Read(_ context.Context, p string) (io.ReadCloser, error) {
	src, err := s.PhysicalPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, notFound(p, err)
	}
	return f, nil
}

func (s *LocalStore) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.Stat(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *LocalStore) Stat(_ context.Context, p string) (Info, error) {
	src, err := s.PhysicalPath(p)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(src)
	if err != nil {
		return Info{}, notFound(p, err)
	}
	return Info{Path: p, Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

func (s *LocalStore) Delete(_ context.Context, p string) error {
	target, err := s.PhysicalPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) Move(_ context.Context, src, dst string) error {
	from, err := s.PhysicalPath(src)
	if err != nil {
		return err
	}
	to, err := s.PhysicalPath(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o750); err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return notFound(src, err)
	}
	return nil
}

func (s *LocalStore) MkdirAll(_ context.Context, p string) error {
	dir, err := s.PhysicalPath(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o750)
}

// DeleteDir removes a directory tree; a missing directory is not an error.
func (s *LocalStore) DeleteDir(_ context.Context, p string) error {
	dir, err := s.PhysicalPath(p)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// List returns the direct children of dir. A missing dir yields no entries.
func (s *LocalStore) List(_ context.Context, dir string) ([]Info, error) {
	physical, err := s.PhysicalPath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(physical)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: path.Join(dir, e.Name()), Size: fi.Size(), ModTime: fi.ModTime(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (s *LocalStore) ScratchDir(_ context.Context, pattern string) (string, func(), error) {
	base := filepath.Join(s.Root, scratchRoot)
	if err := os.MkdirAll(base, 0o750); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return "", nil, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
