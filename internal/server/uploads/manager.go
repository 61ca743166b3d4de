// Package uploads implements the resumable chunked upload protocol: chunks
// arrive in any order, are staged on disk, and are assembled into the
// original asset once every index is present.
package uploads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/pressarchive/internal/server/metrics"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/queue"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const mimePDF = "application/pdf"

type Config struct {
	ChunkSize      int64
	MaxChunkBytes  int64
	MaxUploadBytes int64
	SessionTTL     time.Duration
	StagingDir     string
	OriginalDir    string
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:      1 << 20,
		MaxChunkBytes:  8 << 20,
		MaxUploadBytes: 2 << 30,
		SessionTTL:     24 * time.Hour,
		StagingDir:     "uploads/temp",
		OriginalDir:    "pdf/original",
	}
}

type Deps struct {
	Sessions SessionStore
	Store    blobstore.Local
	Tx       dbx.Transactor
	Repos    repomanager.RepositoryManager
	Queue    queue.Enqueuer
	Metrics  *metrics.Metrics
	Logger   logging.Logger
}

type Manager struct {
	Deps
	cfg        Config
	completing sync.Map
	now        func() time.Time
}

func NewManager(d Deps, cfg Config) (*Manager, error) {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = def.MaxChunkBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = def.StagingDir
	}
	if cfg.OriginalDir == "" {
		cfg.OriginalDir = def.OriginalDir
	}
	if cfg.ChunkSize > cfg.MaxChunkBytes {
		return nil, fmt.Errorf("chunk size %d exceeds max chunk bytes %d", cfg.ChunkSize, cfg.MaxChunkBytes)
	}
	d.Logger = d.Logger.With("module", "uploads")
	return &Manager{Deps: d, cfg: cfg, now: time.Now}, nil
}

// StagingPath is the directory holding the chunks of one session.
func (m *Manager) StagingPath(id string) string {
	return path.Join(m.cfg.StagingDir, id)
}

func (m *Manager) chunkPath(id string, index int) string {
	return path.Join(m.StagingPath(id), "chunk_"+strconv.Itoa(index))
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.Validationf("malformed upload id %q", id)
	}
	return nil
}

type InitResult struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
}

func (m *Manager) Init(ctx context.Context, filename string, totalSize int64, userID string) (*InitResult, error) {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return nil, common.Validationf("filename is required")
	}
	if totalSize <= 0 {
		return nil, common.Validationf("filesize must be positive")
	}
	if totalSize > m.cfg.MaxUploadBytes {
		return nil, common.Validationf("filesize %d exceeds limit %d", totalSize, m.cfg.MaxUploadBytes)
	}

	sess := models.NewUploadSession(uuid.NewString(), name, totalSize, m.cfg.ChunkSize, userID, m.now())
	if err := m.Store.MkdirAll(ctx, m.StagingPath(sess.ID)); err != nil {
		return nil, fmt.Errorf("create staging: %w", err)
	}
	if err := m.Sessions.Put(ctx, sess); err != nil {
		_ = m.Store.DeleteDir(ctx, m.StagingPath(sess.ID))
		return nil, err
	}

	m.Metrics.UploadSession("started")
	m.Logger.Info(ctx, "upload started", "upload_id", sess.ID, "filename", name, "size", totalSize, "chunks", sess.TotalChunks)
	return &InitResult{UploadID: sess.ID, ChunkSize: sess.ChunkSize, TotalChunks: sess.TotalChunks}, nil
}

type ChunkResult struct {
	Received int     `json:"received"`
	Total    int     `json:"total"`
	Progress float64 `json:"progress"`
}

// PutChunk stages chunk index. The payload must be exactly as long as the
// session layout says; resending an index replaces it without double
// counting.
func (m *Manager) PutChunk(ctx context.Context, id string, index int, r io.Reader) (*ChunkResult, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	sess, err := m.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.HasChunk(index) {
		return nil, common.Validationf("chunk index %d out of range [0, %d)", index, sess.TotalChunks)
	}
	want := sess.ExpectedChunkLength(index)
	if want > m.cfg.MaxChunkBytes {
		return nil, common.Validationf("chunk of %d bytes exceeds limit %d", want, m.cfg.MaxChunkBytes)
	}

	target := m.chunkPath(id, index)
	if _, err := m.Store.Write(ctx, target, newExactReader(io.LimitReader(r, m.cfg.MaxChunkBytes+1), want)); err != nil {
		return nil, err
	}

	sess, err = m.Sessions.Update(ctx, id, func(s *models.UploadSession) error {
		s.MarkReceived(index)
		return nil
	})
	if err != nil {
		// aborted or expired while the chunk was in flight
		_ = m.Store.Delete(ctx, target)
		return nil, err
	}

	m.Metrics.Chunk()
	return &ChunkResult{Received: sess.ReceivedCount(), Total: sess.TotalChunks, Progress: sess.Progress()}, nil
}

func validateMetadata(meta *models.IssueMetadata) error {
	if meta.PublicationID <= 0 {
		return common.Validationf("publication_id is required")
	}
	if meta.IssueDate.IsZero() {
		return common.Validationf("issue_date is required")
	}
	if meta.Language == "" {
		meta.Language = models.LanguageRussian
	}
	if !meta.Language.Valid() {
		return common.Validationf("unsupported language %q", meta.Language)
	}
	meta.IssueNumber = strings.TrimSpace(meta.IssueNumber)
	return nil
}

// Complete assembles the chunks in index order, persists the asset and its
// issue, and schedules compression. If persistence fails the assembled file
// is removed and the session is kept so the client can try again.
func (m *Manager) Complete(ctx context.Context, id string, meta models.IssueMetadata, userID string) (*models.Issue, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := validateMetadata(&meta); err != nil {
		return nil, err
	}
	if _, busy := m.completing.LoadOrStore(id, struct{}{}); busy {
		return nil, common.ErrAlreadyRunning
	}
	defer m.completing.Delete(id)

	sess, err := m.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Complete() {
		return nil, &common.IncompleteUploadError{
			Received: sess.ReceivedCount(),
			Expected: sess.TotalChunks,
			Missing:  sess.Missing(),
		}
	}

	assetID := uuid.NewString()
	final := path.Join(m.cfg.OriginalDir, assetID+".pdf")
	size, sum, err := m.assemble(ctx, sess, final)
	if err != nil {
		_ = m.Store.Delete(ctx, final)
		return nil, err
	}

	issue, err := m.register(ctx, assetID, final, sess.Filename, size, sum, meta, userID)
	if err != nil {
		return nil, err
	}

	_ = m.Sessions.Delete(ctx, id)
	if err := m.Store.DeleteDir(ctx, m.StagingPath(id)); err != nil {
		m.Logger.Warn(ctx, "failed to remove staging", "upload_id", id, "error", err)
	}
	m.Metrics.UploadSession("completed")
	m.Metrics.Assembled(size)
	m.Logger.Info(ctx, "upload completed", "upload_id", id, "asset_id", assetID, "issue_id", issue.ID, "size", size, "sha256", sum)
	return issue, nil
}

// Import stores a whole PDF read from r and registers it exactly like a
// completed upload. It backs bulk ingestion from local directories.
func (m *Manager) Import(ctx context.Context, filename string, r io.Reader, meta models.IssueMetadata, userID string) (*models.Issue, error) {
	if err := validateMetadata(&meta); err != nil {
		return nil, err
	}

	assetID := uuid.NewString()
	final := path.Join(m.cfg.OriginalDir, assetID+".pdf")
	h := sha256.New()
	size, err := m.Store.Write(ctx, final, io.TeeReader(io.LimitReader(r, m.cfg.MaxUploadBytes+1), h))
	if err == nil {
		switch {
		case size == 0:
			err = common.Validationf("%s is empty", filename)
		case size > m.cfg.MaxUploadBytes:
			err = common.Validationf("%s exceeds %d bytes", filename, m.cfg.MaxUploadBytes)
		}
	}
	if err != nil {
		_ = m.Store.Delete(ctx, final)
		return nil, err
	}

	issue, err := m.register(ctx, assetID, final, filename, size, hex.EncodeToString(h.Sum(nil)), meta, userID)
	if err != nil {
		return nil, err
	}
	m.Logger.Info(ctx, "file imported", "name", filename, "asset_id", assetID, "issue_id", issue.ID, "size", size)
	return issue, nil
}

// register persists the asset, its issue and OCR row for a file already at
// final, then schedules compression. If persistence fails the file is
// removed.
func (m *Manager) register(ctx context.Context, assetID, final, filename string, size int64, sum string, meta models.IssueMetadata, userID string) (*models.Issue, error) {
	asset := &models.Asset{
		ID:           assetID,
		OriginalName: filename,
		StoredPath:   final,
		OriginalPath: final,
		SHA256:       sum,
		Size:         size,
		MimeType:     mimePDF,
		Status:       models.AssetUploaded,
		UploadedBy:   userID,
	}
	issue := &models.Issue{
		ID:            uuid.NewString(),
		PublicationID: meta.PublicationID,
		IssueDate:     meta.IssueDate,
		IssueNumber:   meta.IssueNumber,
		Language:      meta.Language,
		FileID:        assetID,
		FileSize:      size,
		MimeType:      mimePDF,
		CreatedBy:     userID,
	}

	err := m.Tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := m.Repos.Assets(tx).Create(ctx, asset); err != nil {
			return err
		}
		if err := m.Repos.Issues(tx).Create(ctx, issue); err != nil {
			return err
		}
		return m.Repos.OcrResults(tx).Ensure(ctx, issue.ID)
	})
	if err != nil {
		if derr := m.Store.Delete(ctx, final); derr != nil {
			m.Logger.Error(ctx, "failed to remove stored file", "path", final, "error", derr)
		}
		return nil, fmt.Errorf("persist upload: %w", err)
	}

	if err := m.Queue.Enqueue(ctx, queue.Job{Stage: queue.StageCompress, AssetID: assetID}); err != nil {
		l := m.Logger.With("asset_id", assetID, "issue_id", issue.ID)
		l.Error(ctx, "compression not scheduled", "error", err)
		if merr := m.Repos.Assets(m.Tx.DB()).MarkFailed(ctx, assetID, models.AssetUploaded, "enqueue compress: "+err.Error()); merr != nil {
			l.Error(ctx, "failed to mark asset failed", "error", merr)
		}
	}
	return issue, nil
}

// assemble concatenates chunks 0..N-1 into dst and hashes the bytes written.
// Chunks are opened one at a time.
func (m *Manager) assemble(ctx context.Context, sess *models.UploadSession, dst string) (int64, string, error) {
	src := &chunkReader{
		ctx: ctx,
		n:   sess.TotalChunks,
		open: func(ctx context.Context, i int) (io.ReadCloser, error) {
			return m.Store.Read(ctx, m.chunkPath(sess.ID, i))
		},
	}
	defer src.Close()

	h := sha256.New()
	n, err := m.Store.Write(ctx, dst, io.TeeReader(src, h))
	if err != nil {
		return 0, "", fmt.Errorf("assemble: %w", err)
	}
	if n != sess.TotalSize {
		return 0, "", fmt.Errorf("%w: assembled %d bytes, expected %d", common.ErrInternal, n, sess.TotalSize)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// Abort drops the session and its staged chunks. Unknown sessions are fine.
func (m *Manager) Abort(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if _, err := m.Sessions.Get(ctx, id); err == nil {
		m.Metrics.UploadSession("aborted")
	}
	if err := m.Sessions.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.Store.DeleteDir(ctx, m.StagingPath(id)); err != nil {
		return err
	}
	m.Logger.Info(ctx, "upload aborted", "upload_id", id)
	return nil
}

// ReleaseStaging is the session store's expiry hook.
func (m *Manager) ReleaseStaging(id string) {
	ctx := context.Background()
	if err := m.Store.DeleteDir(ctx, m.StagingPath(id)); err != nil {
		m.Logger.Warn(ctx, "failed to remove expired staging", "upload_id", id, "error", err)
	}
}

// Sweep removes staging directories that have no live session and have not
// been written to for a full TTL, e.g. after a restart dropped the sessions.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	dirs, err := m.Store.List(ctx, m.cfg.StagingDir)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.cfg.SessionTTL)

	removed := 0
	for _, d := range dirs {
		id := path.Base(d.Path)
		if _, err := m.Sessions.Get(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, common.ErrNotFound) {
			return removed, err
		}
		if d.ModTime.After(cutoff) {
			continue
		}
		if err := m.Store.DeleteDir(ctx, d.Path); err != nil {
			m.Logger.Warn(ctx, "failed to remove orphaned staging", "path", d.Path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.Logger.Info(ctx, "orphaned staging removed", "count", removed)
	}
	return removed, nil
}

// RunJanitor sweeps every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.Logger.Error(ctx, "staging sweep failed", "error", err)
			}
		}
	}
}
