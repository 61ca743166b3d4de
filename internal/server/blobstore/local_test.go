package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), "/_protected/")
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, s Store, p string) string {
	t.Helper()
	rc, err := s.Read(context.Background(), p)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestClean(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "pdf/original/a.pdf", want: "pdf/original/a.pdf"},
		{in: "/pdf//optimized/./b.pdf", want: "pdf/optimized/b.pdf"},
		{in: `uploads\temp\x\chunk_0`, want: "uploads/temp/x/chunk_0"},
		{in: "../etc/passwd", wantErr: true},
		{in: "pdf/../../etc", wantErr: true},
		{in: "", wantErr: true},
		{in: "/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Clean(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathMapper(t *testing.T) {
	m := PathMapper{Root: "/srv/archive", RedirectPrefix: "/_protected/"}

	phys, err := m.PhysicalPath("pdf/optimized/x.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/srv/archive/pdf/optimized/x.pdf"), phys)
	assert.Equal(t, "/_protected/pdf/optimized/x.pdf", m.RedirectPath("pdf/optimized/x.pdf"))
	assert.Equal(t, "/_protected/thumbnails/issue_1.jpg", PathMapper{RedirectPrefix: "_protected"}.RedirectPath("/thumbnails/issue_1.jpg"))
	assert.Equal(t, "/a.pdf", PathMapper{}.RedirectPath("a.pdf"))
	assert.Empty(t, m.RedirectPath("../x"))
}

func TestLocalStore_WriteReadStat(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	n, err := s.Write(ctx, "pdf/original/a.pdf", strings.NewReader("%PDF-1.4 hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)
	assert.Equal(t, "%PDF-1.4 hello", readAll(t, s, "pdf/original/a.pdf"))

	info, err := s.Stat(ctx, "pdf/original/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(14), info.Size)

	ok, err := s.Exists(ctx, "pdf/original/a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "pdf/original/missing.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Read(ctx, "pdf/original/missing.pdf")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestLocalStore_WriteOverwritesAndLeavesNoTempFiles(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, "uploads/temp/u/chunk_0", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = s.Write(ctx, "uploads/temp/u/chunk_0", strings.NewReader("second"))
	require.NoError(t, err)

	assert.Equal(t, "second", readAll(t, s, "uploads/temp/u/chunk_0"))

	entries, err := s.List(ctx, "uploads/temp/u")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "uploads/temp/u/chunk_0", entries[0].Path)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestLocalStore_WriteFailureKeepsPreviousContent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, "a.pdf", strings.NewReader("good"))
	require.NoError(t, err)

	_, err = s.Write(ctx, "a.pdf", io.MultiReader(bytes.NewReader([]byte("par")), failingReader{}))
	require.Error(t, err)

	assert.Equal(t, "good", readAll(t, s, "a.pdf"))
	entries, err := os.ReadDir(s.Root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be removed")
}

func TestLocalStore_WriteHonoursCancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Write(ctx, "a.pdf", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLocalStore_MoveAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, "pdf/original/a.pdf", strings.NewReader("bytes"))
	require.NoError(t, err)

	require.NoError(t, s.Move(ctx, "pdf/original/a.pdf", "pdf/optimized/a.pdf"))
	assert.Equal(t, "bytes", readAll(t, s, "pdf/optimized/a.pdf"))

	ok, _ := s.Exists(ctx, "pdf/original/a.pdf")
	assert.False(t, ok)

	require.ErrorIs(t, s.Move(ctx, "pdf/original/a.pdf", "x.pdf"), common.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "pdf/optimized/a.pdf"))
	require.NoError(t, s.Delete(ctx, "pdf/optimized/a.pdf"), "delete is idempotent")
}

func TestLocalStore_Dirs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.MkdirAll(ctx, "uploads/temp/s1"))
	_, err := s.Write(ctx, "uploads/temp/s1/chunk_0", strings.NewReader("x"))
	require.NoError(t, err)

	entries, err := s.List(ctx, "uploads/temp")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "uploads/temp/s1", entries[0].Path)

	require.NoError(t, s.DeleteDir(ctx, "uploads/temp/s1"))
	require.NoError(t, s.DeleteDir(ctx, "uploads/temp/s1"))

	entries, err = s.List(ctx, "uploads/missing")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStore_ScratchDir(t *testing.T) {
	s := newStore(t)

	dir, cleanup, err := s.ScratchDir(context.Background(), "ocr-*")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page-1.png"), []byte("x"), 0o600))
	assert.True(t, strings.HasPrefix(dir, s.Root))

	cleanup()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
