// Package repotest provides an in-memory RepositoryManager and Transactor with
// the same status semantics as the Postgres repositories, for service tests.
package repotest

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/assets"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/issues"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/ocrresults"
)

type state struct {
	assets map[string]models.Asset
	issues map[string]models.Issue
	ocr    map[string]models.OcrResult
}

func (s state) clone() state {
	c := state{
		assets: make(map[string]models.Asset, len(s.assets)),
		issues: make(map[string]models.Issue, len(s.issues)),
		ocr:    make(map[string]models.OcrResult, len(s.ocr)),
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.issues {
		c.issues[k] = v
	}
	for k, v := range s.ocr {
		c.ocr[k] = v
	}
	return c
}

// Memory implements repomanager.RepositoryManager and dbx.Transactor.
// Transactions are serialised and roll back by restoring a snapshot.
type Memory struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	st       state
	failures map[string]error
	clock    time.Time
}

func NewMemory() *Memory {
	return &Memory{
		st:       state{assets: map[string]models.Asset{}, issues: map[string]models.Issue{}, ocr: map[string]models.OcrResult{}},
		failures: map[string]error{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FailOn makes the named operation (e.g. "assets.CommitCompression") return
// err until cleared with a nil err.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) injected(op string) error {
	return m.failures[op]
}

// tick returns a strictly increasing timestamp so list ordering is stable.
func (m *Memory) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *Memory) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *Memory) Assets(dbx.DBTX) assets.Repository         { return (*assetRepo)(m) }
func (m *Memory) Issues(dbx.DBTX) issues.Repository         { return (*issueRepo)(m) }
func (m *Memory) OcrResults(dbx.DBTX) ocrresults.Repository { return (*ocrRepo)(m) }

func (m *Memory) DB() dbx.DBTX { return nil }

func (m *Memory) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	if err := m.injected("tx"); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := m.st.clone()
	m.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// Seed helpers and accessors for assertions.

func (m *Memory) PutAsset(a models.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = m.tick()
	}
	m.st.assets[a.ID] = a
}

func (m *Memory) PutIssue(i models.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = m.tick()
	}
	m.st.issues[i.ID] = i
}

func (m *Memory) PutOcr(r models.OcrResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = m.tick()
	}
	m.st.ocr[r.IssueID] = r
}

func (m *Memory) Asset(id string) (models.Asset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.st.assets[id]
	return a, ok
}

func (m *Memory) Issue(id string) (models.Issue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.st.issues[id]
	return i, ok
}

func (m *Memory) Ocr(issueID string) (models.OcrResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.st.ocr[issueID]
	return r, ok
}

func (m *Memory) Counts() (assets, issues, ocr int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.assets), len(m.st.issues), len(m.st.ocr)
}

type assetRepo Memory

func (r *assetRepo) m() *Memory { return (*Memory)(r) }

func (r *assetRepo) Create(_ context.Context, a *models.Asset) error {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("assets.Create"); err != nil {
		return err
	}
	now := m.tick()
	a.CreatedAt, a.UpdatedAt = now, now
	m.st.assets[a.ID] = *a
	return nil
}

func (r *assetRepo) GetByID(_ context.Context, id string) (*models.Asset, error) {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("assets.GetByID"); err != nil {
		return nil, err
	}
	a, ok := m.st.assets[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &a, nil
}

func (r *assetRepo) CompareAndSetStatus(_ context.Context, id string, from, to models.AssetStatus) error {
	if err := models.ValidateAssetTransition(from, to); err != nil {
		return err
	}
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("assets.CompareAndSetStatus"); err != nil {
		return err
	}
	a, ok := m.st.assets[id]
	if !ok || a.Status != from {
		return common.ErrStatusConflict
	}
	a.Status, a.ErrorMessage, a.UpdatedAt = to, "", m.tick()
	m.st.assets[id] = a
	return nil
}

func (r *assetRepo) MarkFailed(_ context.Context, id string, from models.AssetStatus, msg string) error {
	if err := models.ValidateAssetTransition(from, models.AssetFailed); err != nil {
		return err
	}
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("assets.MarkFailed"); err != nil {
		return err
	}
	a, ok := m.st.assets[id]
	if !ok || a.Status != from {
		return common.ErrStatusConflict
	}
	a.Status, a.ErrorMessage, a.UpdatedAt = models.AssetFailed, msg, m.tick()
	m.st.assets[id] = a
	return nil
}

func (r *assetRepo) CommitCompression(_ context.Context, id, storedPath string, size int64, sha256 string) error {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("assets.CommitCompression"); err != nil {
		return err
	}
	a, ok := m.st.assets[id]
	if !ok || a.Status != models.AssetCompressing {
		return common.ErrStatusConflict
	}
	a.StoredPath, a.Size, a.SHA256, a.OriginalPath = storedPath, size, sha256, ""
	a.Status, a.ErrorMessage, a.UpdatedAt = models.AssetProcessingOCR, "", m.tick()
	m.st.assets[id] = a
	return nil
}

func (r *assetRepo) Delete(_ context.Context, id string) error {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.assets[id]; !ok {
		return common.ErrNotFound
	}
	delete(m.st.assets, id)
	for iid, i := range m.st.issues {
		if i.FileID == id {
			delete(m.st.issues, iid)
			delete(m.st.ocr, iid)
		}
	}
	return nil
}

func (r *assetRepo) ListIDsByStatus(_ context.Context, status models.AssetStatus) ([]string, error) {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Asset
	for _, a := range m.st.assets {
		if a.Status == status {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.Before(list[j].UpdatedAt) })
	ids := make([]string, len(list))
	for i, a := range list {
		ids[i] = a.ID
	}
	return ids, nil
}

type issueRepo Memory

func (r *issueRepo) m() *Memory { return (*Memory)(r) }

func (r *issueRepo) Create(_ context.Context, i *models.Issue) error {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("issues.Create"); err != nil {
		return err
	}
	now := m.tick()
	i.CreatedAt, i.UpdatedAt = now, now
	m.st.issues[i.ID] = *i
	return nil
}

func (r *issueRepo) GetByID(_ context.Context, id string) (*models.Issue, error) {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.st.issues[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &i, nil
}

func (r *issueRepo) GetByAssetID(_ context.Context, assetID string) (*models.Issue, error) {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.st.issues {
		if i.FileID == assetID {
			return &i, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *issueRepo) UpdateFileStats(_ context.Context, id string, size int64, mimeType string) error {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("issues.UpdateFileStats"); err != nil {
		return err
	}
	i, ok := m.st.issues[id]
	if !ok {
		return common.ErrNotFound
	}
	i.FileSize, i.MimeType, i.UpdatedAt = size, mimeType, m.tick()
	m.st.issues[id] = i
	return nil
}

func (r *issueRepo) SetThumbnail(_ context.Context, id, path string) error {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.st.issues[id]
	if !ok {
		return common.ErrNotFound
	}
	i.ThumbnailPath, i.UpdatedAt = path, m.tick()
	m.st.issues[id] = i
	return nil
}

func (r *issueRepo) ListWithoutThumbnail(_ context.Context, limit int) ([]*models.Issue, error) {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.Issue
	for _, i := range m.st.issues {
		if i.ThumbnailPath == "" {
			i := i
			list = append(list, &i)
		}
	}
	sort.Slice(list, func(a, b int) bool { return list[a].CreatedAt.Before(list[b].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

type ocrRepo Memory

func (r *ocrRepo) m() *Memory { return (*Memory)(r) }

func (r *ocrRepo) Ensure(_ context.Context, issueID string) error {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ocr.Ensure"); err != nil {
		return err
	}
	if _, ok := m.st.ocr[issueID]; ok {
		return nil
	}
	now := m.tick()
	m.st.ocr[issueID] = models.OcrResult{IssueID: issueID, Status: models.OcrQueued, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (r *ocrRepo) Get(_ context.Context, issueID string) (*models.OcrResult, error) {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.st.ocr[issueID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &res, nil
}

func (r *ocrRepo) update(op, issueID string, from []models.OcrStatus, fn func(*models.OcrResult)) error {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(op); err != nil {
		return err
	}
	res, ok := m.st.ocr[issueID]
	if !ok {
		return common.ErrStatusConflict
	}
	for _, s := range from {
		if res.Status == s {
			fn(&res)
			res.UpdatedAt = m.tick()
			m.st.ocr[issueID] = res
			return nil
		}
	}
	return common.ErrStatusConflict
}

func (r *ocrRepo) Requeue(_ context.Context, issueID string) error {
	return r.update("ocr.Requeue", issueID, []models.OcrStatus{models.OcrFailed, models.OcrDone}, func(res *models.OcrResult) {
		res.Status, res.ErrorMessage, res.FullText = models.OcrQueued, "", ""
	})
}

func (r *ocrRepo) Start(_ context.Context, issueID string, at time.Time) error {
	return r.update("ocr.Start", issueID, []models.OcrStatus{models.OcrQueued}, func(res *models.OcrResult) {
		res.Status, res.StartedAt, res.FinishedAt, res.ErrorMessage = models.OcrProcessing, &at, nil, ""
	})
}

func (r *ocrRepo) Finish(_ context.Context, issueID, text string, at time.Time) error {
	return r.update("ocr.Finish", issueID, []models.OcrStatus{models.OcrProcessing}, func(res *models.OcrResult) {
		res.Status, res.FullText, res.FinishedAt = models.OcrDone, text, &at
	})
}

func (r *ocrRepo) Fail(_ context.Context, issueID, msg string, at time.Time) error {
	return r.update("ocr.Fail", issueID, []models.OcrStatus{models.OcrProcessing}, func(res *models.OcrResult) {
		res.Status, res.ErrorMessage, res.FullText, res.FinishedAt = models.OcrFailed, msg, "", &at
	})
}

func (r *ocrRepo) ListByStatus(_ context.Context, status models.OcrStatus) ([]string, error) {
	m := r.m()
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.OcrResult
	for _, res := range m.st.ocr {
		if res.Status == status {
			list = append(list, res)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.Before(list[j].UpdatedAt) })
	ids := make([]string, len(list))
	for i, res := range list {
		ids[i] = res.IssueID
	}
	return ids, nil
}
