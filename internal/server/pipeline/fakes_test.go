package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/queue"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/repotest"
	"github.com/dmitrijs2005/pressarchive/internal/server/tools"
	"github.com/stretchr/testify/require"
)

type fakeCompressor struct {
	out   []byte
	err   error
	calls int
}

func (c *fakeCompressor) Compress(_ context.Context, _, out string) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	return os.WriteFile(out, c.out, 0o600)
}

// fakeRasterizer writes real PNG pages named like pdftoppm does.
type fakeRasterizer struct {
	mu        sync.Mutex
	pages     int
	err       error
	thumbErr  error
	lastDirs  []string
	imageSize image.Point
}

func (r *fakeRasterizer) Rasterize(_ context.Context, _ string, outDir string, opts tools.RasterOptions) ([]string, error) {
	r.mu.Lock()
	r.lastDirs = append(r.lastDirs, outDir)
	r.mu.Unlock()
	thumb := opts.FirstPage == 1 && opts.LastPage == 1
	if thumb && r.thumbErr != nil {
		return nil, r.thumbErr
	}
	if !thumb && r.err != nil {
		return nil, r.err
	}
	n := r.pages
	if thumb {
		n = 1
	}
	size := r.imageSize
	if size == (image.Point{}) {
		size = image.Pt(80, 120)
	}

	var out []string
	for i := 1; i <= n; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page-%d.png", i))
		img := image.NewGray(image.Rect(0, 0, size.X, size.Y))
		for x := 0; x < size.X; x++ {
			img.SetGray(x, x%size.Y, color.Gray{Y: 10})
		}
		f, err := os.Create(p)
		if err != nil {
			return nil, err
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return nil, err
		}
		f.Close()
		out = append(out, p)
	}
	return out, nil
}

type fakeRecognizer struct {
	failOn string
}

func (r *fakeRecognizer) Recognize(_ context.Context, image string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(image), filepath.Ext(image))
	if name == r.failOn {
		return "", errors.New("tesseract: exit status 1")
	}
	return "text of " + name, nil
}

type fakePageCounter struct {
	n   int
	err error
}

func (c fakePageCounter) PageCount(context.Context, string) (int, error) { return c.n, c.err }

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) pop() (queue.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return queue.Job{}, false
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, true
}

func (q *recordingQueue) stages() []queue.Stage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Stage, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.Stage
	}
	return out
}

type harness struct {
	p     *Pipeline
	mem   *repotest.Memory
	store *blobstore.LocalStore
	root  string
	q     *recordingQueue
	comp  *fakeCompressor
	rast  *fakeRasterizer
	rec   *fakeRecognizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := blobstore.NewLocalStore(root, "/_protected/")
	require.NoError(t, err)

	h := &harness{
		mem:   repotest.NewMemory(),
		store: store,
		root:  root,
		q:     &recordingQueue{},
		comp:  &fakeCompressor{out: []byte(strings.Repeat("c", 400))},
		rast:  &fakeRasterizer{pages: 3},
		rec:   &fakeRecognizer{},
	}
	h.p = New(Deps{
		Tx:         h.mem,
		Repos:      h.mem,
		Store:      store,
		Compressor: h.comp,
		Rasterizer: h.rast,
		Recognizer: h.rec,
		Queue:      h.q,
		Logger:     logging.NewNop(),
	}, Config{})
	return h
}

// seedUploaded stores an original PDF and the rows complete() would create.
func (h *harness) seedUploaded(t *testing.T, id string, size int) (models.Asset, models.Issue) {
	t.Helper()
	body := []byte(strings.Repeat("o", size))
	logical := "pdf/original/" + id + ".pdf"
	_, err := h.store.Write(context.Background(), logical, strings.NewReader(string(body)))
	require.NoError(t, err)

	sum := sha256.Sum256(body)
	a := models.Asset{
		ID:           id,
		OriginalName: "issue.pdf",
		StoredPath:   logical,
		OriginalPath: logical,
		SHA256:       hex.EncodeToString(sum[:]),
		Size:         int64(size),
		MimeType:     "application/pdf",
		Status:       models.AssetUploaded,
	}
	i := models.Issue{ID: "issue-" + id, FileID: id, FileSize: int64(size), MimeType: "application/pdf", Language: models.LanguageRussian}
	h.mem.PutAsset(a)
	h.mem.PutIssue(i)
	h.mem.PutOcr(models.OcrResult{IssueID: i.ID, Status: models.OcrQueued})
	return a, i
}

// drain runs queued jobs in FIFO order until none are left.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for n := 0; n < 100; n++ {
		job, ok := h.q.pop()
		if !ok {
			return
		}
		h.p.Handle(context.Background(), job)
	}
	t.Fatal("queue did not drain")
}

func (h *harness) exists(t *testing.T, logical string) bool {
	t.Helper()
	ok, err := h.store.Exists(context.Background(), logical)
	require.NoError(t, err)
	return ok
}

func (h *harness) scratchEmpty(t *testing.T) bool {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.root, "tmp"))
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	require.NoError(t, err)
	return len(entries) == 0
}
