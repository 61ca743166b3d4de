package uploads

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/queue"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

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

type fixture struct {
	m     *Manager
	mem   *repotest.Memory
	store *blobstore.LocalStore
	q     *recordingQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := blobstore.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	f := &fixture{mem: repotest.NewMemory(), store: store, q: &recordingQueue{}}
	f.m, err = NewManager(Deps{
		Sessions: NewCacheStore(time.Hour, 0, nil),
		Store:    store,
		Tx:       f.mem,
		Repos:    f.mem,
		Queue:    f.q,
		Logger:   logging.NewNop(),
	}, Config{ChunkSize: mib, MaxChunkBytes: 2 * mib})
	require.NoError(t, err)
	return f
}

func payload(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(b)
	return b
}

func chunk(b []byte, i int) []byte {
	start := i * mib
	end := min(start+mib, len(b))
	return b[start:end]
}

func meta() models.IssueMetadata {
	return models.IssueMetadata{
		PublicationID: 7,
		IssueDate:     time.Date(1937, 5, 9, 0, 0, 0, 0, time.UTC),
		IssueNumber:   "104",
		Language:      models.LanguageRussian,
	}
}

func (f *fixture) read(t *testing.T, logical string) []byte {
	t.Helper()
	rc, err := f.store.Read(context.Background(), logical)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func TestUpload_EndToEndOutOfOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(2*mib + mib/2)

	up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, up.TotalChunks)
	assert.Equal(t, int64(mib), up.ChunkSize)

	for _, i := range []int{1, 0, 2} {
		_, err := f.m.PutChunk(ctx, up.UploadID, i, bytes.NewReader(chunk(body, i)))
		require.NoError(t, err)
	}

	issue, err := f.m.Complete(ctx, up.UploadID, meta(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), issue.PublicationID)
	assert.Equal(t, int64(len(body)), issue.FileSize)

	asset, ok := f.mem.Asset(issue.FileID)
	require.True(t, ok)
	assert.Equal(t, models.AssetUploaded, asset.Status)
	assert.Equal(t, "issue.pdf", asset.OriginalName)
	assert.Equal(t, asset.StoredPath, asset.OriginalPath)
	assert.Equal(t, "u1", asset.UploadedBy)

	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), asset.SHA256)
	assert.Equal(t, body, f.read(t, asset.StoredPath))

	ocr, ok := f.mem.Ocr(issue.ID)
	require.True(t, ok)
	assert.Equal(t, models.OcrQueued, ocr.Status)

	assert.Equal(t, []queue.Job{{Stage: queue.StageCompress, AssetID: asset.ID}}, f.q.jobs)

	_, err = f.m.Sessions.Get(ctx, up.UploadID)
	require.ErrorIs(t, err, common.ErrNotFound)
	ok, err = f.store.Exists(ctx, f.m.StagingPath(up.UploadID))
	require.NoError(t, err)
	assert.False(t, ok, "staging must be removed")
}

func TestUpload_OrderIndependence(t *testing.T) {
	body := payload(3*mib + 17)
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}}

	var first []byte
	for _, order := range orders {
		f := newFixture(t)
		ctx := context.Background()
		up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
		require.NoError(t, err)
		for _, i := range order {
			_, err := f.m.PutChunk(ctx, up.UploadID, i, bytes.NewReader(chunk(body, i)))
			require.NoError(t, err)
		}
		issue, err := f.m.Complete(ctx, up.UploadID, meta(), "u1")
		require.NoError(t, err)
		asset, _ := f.mem.Asset(issue.FileID)

		got := f.read(t, asset.StoredPath)
		if first == nil {
			first = got
		}
		assert.Equal(t, first, got)
	}
	assert.Equal(t, body, first)
}

func TestPutChunk_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(2 * mib)
	up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)

	var res *ChunkResult
	for n := 0; n < 5; n++ {
		res, err = f.m.PutChunk(ctx, up.UploadID, 0, bytes.NewReader(chunk(body, 0)))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, res.Received)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 50.0, res.Progress)
}

func TestPutChunk_ConcurrentDistinctIndices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(6*mib + 3)
	up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < up.TotalChunks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.m.PutChunk(ctx, up.UploadID, i, bytes.NewReader(chunk(body, i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess, err := f.m.Sessions.Get(ctx, up.UploadID)
	require.NoError(t, err)
	assert.True(t, sess.Complete())
}

func TestPutChunk_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(mib + 10)
	up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)

	_, err = f.m.PutChunk(ctx, up.UploadID, 2, bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, common.ErrValidation, "index out of range")

	_, err = f.m.PutChunk(ctx, up.UploadID, -1, bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = f.m.PutChunk(ctx, up.UploadID, 1, bytes.NewReader(make([]byte, 9)))
	require.ErrorIs(t, err, common.ErrValidation, "short chunk")

	_, err = f.m.PutChunk(ctx, up.UploadID, 1, bytes.NewReader(make([]byte, 11)))
	require.ErrorIs(t, err, common.ErrValidation, "long chunk")

	_, err = f.m.PutChunk(ctx, up.UploadID, 0, bytes.NewReader(make([]byte, 3*mib)))
	require.ErrorIs(t, err, common.ErrValidation, "oversized payload")

	sess, err := f.m.Sessions.Get(ctx, up.UploadID)
	require.NoError(t, err)
	assert.Zero(t, sess.ReceivedCount(), "rejected chunks are not counted")

	_, err = f.m.PutChunk(ctx, "../../etc", 0, bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestPutChunk_BadResendKeepsGoodChunk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(mib)
	up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)

	_, err = f.m.PutChunk(ctx, up.UploadID, 0, bytes.NewReader(body))
	require.NoError(t, err)
	_, err = f.m.PutChunk(ctx, up.UploadID, 0, bytes.NewReader(body[:100]))
	require.Error(t, err)

	issue, err := f.m.Complete(ctx, up.UploadID, meta(), "u1")
	require.NoError(t, err)
	asset, _ := f.mem.Asset(issue.FileID)
	assert.Equal(t, body, f.read(t, asset.StoredPath))
}

func TestPutChunk_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.PutChunk(context.Background(), "6f1c1a4e-8d0b-4a43-9a59-111111111111", 0, bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestInit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.Init(ctx, "", 10, "u1")
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = f.m.Init(ctx, "issue.pdf", 0, "u1")
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = f.m.Init(ctx, "issue.pdf", -5, "u1")
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = f.m.Init(ctx, "issue.pdf", 3<<30, "u1")
	require.ErrorIs(t, err, common.ErrValidation)

	res, err := f.m.Init(ctx, `C:\scans\..\issue.pdf`, 10, "u1")
	require.NoError(t, err)
	sess, err := f.m.Sessions.Get(ctx, res.UploadID)
	require.NoError(t, err)
	assert.Equal(t, "issue.pdf", sess.Filename)
}

func TestComplete_IncompleteCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(2*mib + 1)
	up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)
	_, err = f.m.PutChunk(ctx, up.UploadID, 1, bytes.NewReader(chunk(body, 1)))
	require.NoError(t, err)

	_, err = f.m.Complete(ctx, up.UploadID, meta(), "u1")
	require.ErrorIs(t, err, common.ErrIncompleteUpload)

	var inc *common.IncompleteUploadError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, 1, inc.Received)
	assert.Equal(t, 3, inc.Expected)
	assert.Equal(t, []int{0, 2}, inc.Missing)

	assets, issues, ocr := f.mem.Counts()
	assert.Zero(t, assets+issues+ocr)
	assert.Empty(t, f.q.jobs)
}

func TestComplete_PersistFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(mib)
	up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)
	_, err = f.m.PutChunk(ctx, up.UploadID, 0, bytes.NewReader(body))
	require.NoError(t, err)

	f.mem.FailOn("issues.Create", errors.New("unique violation"))
	_, err = f.m.Complete(ctx, up.UploadID, meta(), "u1")
	require.ErrorContains(t, err, "unique violation")

	assets, issues, _ := f.mem.Counts()
	assert.Zero(t, assets, "asset row rolled back")
	assert.Zero(t, issues)

	originals, err := f.store.List(ctx, "pdf/original")
	require.NoError(t, err)
	assert.Empty(t, originals, "assembled file removed")

	// the session survives so the client can retry complete
	f.mem.FailOn("issues.Create", nil)
	issue, err := f.m.Complete(ctx, up.UploadID, meta(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, issue.ID)
}

func TestComplete_EnqueueFailureMarksAssetFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(10)
	up, err := f.m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)
	_, err = f.m.PutChunk(ctx, up.UploadID, 0, bytes.NewReader(body))
	require.NoError(t, err)

	f.q.err = errors.New("queue full")
	issue, err := f.m.Complete(ctx, up.UploadID, meta(), "u1")
	require.NoError(t, err)

	asset, _ := f.mem.Asset(issue.FileID)
	assert.Equal(t, models.AssetFailed, asset.Status)
	assert.Contains(t, asset.ErrorMessage, "queue full")
}

func TestComplete_MetadataValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "6f1c1a4e-8d0b-4a43-9a59-111111111111"

	m := meta()
	m.PublicationID = 0
	_, err := f.m.Complete(ctx, id, m, "u1")
	require.ErrorIs(t, err, common.ErrValidation)

	m = meta()
	m.Language = "en"
	_, err = f.m.Complete(ctx, id, m, "u1")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = f.m.Complete(ctx, id, meta(), "u1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestAbort_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	up, err := f.m.Init(ctx, "issue.pdf", 10, "u1")
	require.NoError(t, err)
	_, err = f.m.PutChunk(ctx, up.UploadID, 0, bytes.NewReader(make([]byte, 10)))
	require.NoError(t, err)

	require.NoError(t, f.m.Abort(ctx, up.UploadID))
	require.NoError(t, f.m.Abort(ctx, up.UploadID))

	_, err = f.m.Sessions.Get(ctx, up.UploadID)
	require.ErrorIs(t, err, common.ErrNotFound)
	ok, err := f.store.Exists(ctx, f.m.StagingPath(up.UploadID))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.m.PutChunk(ctx, up.UploadID, 0, bytes.NewReader(make([]byte, 10)))
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSweep_RemovesOnlyStaleOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	live, err := f.m.Init(ctx, "live.pdf", 10, "u1")
	require.NoError(t, err)

	stale := "6f1c1a4e-8d0b-4a43-9a59-222222222222"
	fresh := "6f1c1a4e-8d0b-4a43-9a59-333333333333"
	require.NoError(t, f.store.MkdirAll(ctx, f.m.StagingPath(stale)))
	require.NoError(t, f.store.MkdirAll(ctx, f.m.StagingPath(fresh)))

	old := time.Now().Add(-48 * time.Hour)
	for _, id := range []string{stale, live.UploadID} {
		phys, err := f.store.PhysicalPath(f.m.StagingPath(id))
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(phys, old, old))
	}

	n, err := f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]bool{stale: false, fresh: true, live.UploadID: true} {
		ok, err := f.store.Exists(ctx, f.m.StagingPath(id))
		require.NoError(t, err)
		assert.Equal(t, want, ok, id)
	}
}

func TestNewManager_RejectsChunkAboveLimit(t *testing.T) {
	_, err := NewManager(Deps{Logger: logging.NewNop()}, Config{ChunkSize: 4 * mib, MaxChunkBytes: mib})
	require.Error(t, err)
}

// openCountingStore tracks how many objects are open for reading at once.
type openCountingStore struct {
	*blobstore.LocalStore
	mu      sync.Mutex
	open    int
	maxOpen int
}

type countedReader struct {
	io.ReadCloser
	s    *openCountingStore
	once sync.Once
}

func (r *countedReader) Close() error {
	r.once.Do(func() {
		r.s.mu.Lock()
		r.s.open--
		r.s.mu.Unlock()
	})
	return r.ReadCloser.Close()
}

func (s *openCountingStore) Read(ctx context.Context, logical string) (io.ReadCloser, error) {
	rc, err := s.LocalStore.Read(ctx, logical)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.open++
	s.maxOpen = max(s.maxOpen, s.open)
	s.mu.Unlock()
	return &countedReader{ReadCloser: rc, s: s}, nil
}

func TestComplete_AssemblesOneChunkAtATime(t *testing.T) {
	local, err := blobstore.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	store := &openCountingStore{LocalStore: local}
	mem := repotest.NewMemory()

	m, err := NewManager(Deps{
		Sessions: NewCacheStore(time.Hour, 0, nil),
		Store:    store,
		Tx:       mem,
		Repos:    mem,
		Queue:    &recordingQueue{},
		Logger:   logging.NewNop(),
	}, Config{ChunkSize: 1024, MaxChunkBytes: 1024})
	require.NoError(t, err)

	ctx := context.Background()
	body := payload(40*1024 + 7)
	up, err := m.Init(ctx, "issue.pdf", int64(len(body)), "u1")
	require.NoError(t, err)
	require.Equal(t, 41, up.TotalChunks)

	for i := up.TotalChunks - 1; i >= 0; i-- {
		end := min((i+1)*1024, len(body))
		_, err := m.PutChunk(ctx, up.UploadID, i, bytes.NewReader(body[i*1024:end]))
		require.NoError(t, err)
	}

	issue, err := m.Complete(ctx, up.UploadID, meta(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 1, store.maxOpen, "chunks must be opened one at a time")
	assert.Zero(t, store.open, "every chunk is closed")

	asset, ok := mem.Asset(issue.FileID)
	require.True(t, ok)
	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), asset.SHA256)
}

func TestChunkReader_MissingChunk(t *testing.T) {
	r := &chunkReader{
		ctx: context.Background(),
		n:   3,
		open: func(_ context.Context, i int) (io.ReadCloser, error) {
			if i == 1 {
				return nil, common.ErrNotFound
			}
			return io.NopCloser(bytes.NewReader([]byte{byte('a' + i)})), nil
		},
	}

	got, err := io.ReadAll(r)
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorContains(t, err, "chunk 1")
	assert.Equal(t, []byte("a"), got)
	assert.NoError(t, r.Close())
}
