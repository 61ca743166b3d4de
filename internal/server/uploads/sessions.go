package uploads

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/patrickmn/go-cache"
)

// SessionStore keeps upload sessions for a limited time. Implementations must
// hand out copies so callers never share a session's chunk set.
type SessionStore interface {
	Put(ctx context.Context, s *models.UploadSession) error
	Get(ctx context.Context, id string) (*models.UploadSession, error)
	// Update applies fn to the stored session atomically and refreshes its TTL.
	Update(ctx context.Context, id string, fn func(*models.UploadSession) error) (*models.UploadSession, error)
	Delete(ctx context.Context, id string) error
}

// CacheStore is a process-local SessionStore with a sliding TTL. onExpire is
// invoked with the session id when a session expires or is deleted.
type CacheStore struct {
	mu  sync.Mutex
	c   *cache.Cache
	ttl time.Duration
}

func NewCacheStore(ttl, cleanupInterval time.Duration, onExpire func(id string)) *CacheStore {
	c := cache.New(ttl, cleanupInterval)
	if onExpire != nil {
		c.OnEvicted(func(id string, _ any) { onExpire(id) })
	}
	return &CacheStore{c: c, ttl: ttl}
}

func (s *CacheStore) Put(_ context.Context, sess *models.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Set(sess.ID, sess.Clone(), s.ttl)
	return nil
}

func (s *CacheStore) Get(_ context.Context, id string) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(id)
	if !ok {
		return nil, common.ErrNotFound
	}
	return v.(*models.UploadSession).Clone(), nil
}

func (s *CacheStore) Update(_ context.Context, id string, fn func(*models.UploadSession) error) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(id)
	if !ok {
		return nil, common.ErrNotFound
	}
	next := v.(*models.UploadSession).Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.c.Set(id, next, s.ttl)
	return next.Clone(), nil
}

func (s *CacheStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Delete(id)
	return nil
}
