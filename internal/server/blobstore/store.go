// Package blobstore keeps archive bytes addressed by logical, slash-separated
// paths such as "pdf/original/<id>.pdf". The local store is the primary copy;
// the S3 store is an optional replica that can also presign downloads.
package blobstore

import (
	"context"
	"io"
	"time"
)

// Info describes a stored object.
type Info struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Store is the minimal blob contract shared by the local disk and S3.
type Store interface {
	// Write stores r under path, replacing any previous object atomically,
	// and returns the number of bytes written.
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (Info, error)
	// Delete removes path; deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
	Move(ctx context.Context, src, dst string) error
}

// Local is a Store living on a filesystem that external tools and the reverse
// proxy can reach directly.
type Local interface {
	Store
	Locator
	MkdirAll(ctx context.Context, path string) error
	DeleteDir(ctx context.Context, path string) error
	List(ctx context.Context, dir string) ([]Info, error)
	// ScratchDir creates a private temporary directory for tool output and
	// returns its physical path plus a cleanup func that never fails loudly.
	ScratchDir(ctx context.Context, pattern string) (string, func(), error)
}

// Locator maps a logical path to where it really lives.
type Locator interface {
	PhysicalPath(path string) (string, error)
	RedirectPath(path string) string
}
