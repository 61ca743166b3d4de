package uploads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStore_CopiesOnReadAndWrite(t *testing.T) {
	s := NewCacheStore(time.Hour, 0, nil)
	ctx := context.Background()
	sess := models.NewUploadSession("id", "a.pdf", 10, 4, "u", time.Now())
	require.NoError(t, s.Put(ctx, sess))

	sess.MarkReceived(0)
	got, err := s.Get(ctx, "id")
	require.NoError(t, err)
	assert.Zero(t, got.ReceivedCount())

	got.MarkReceived(1)
	again, _ := s.Get(ctx, "id")
	assert.Zero(t, again.ReceivedCount())
}

func TestCacheStore_Update(t *testing.T) {
	s := NewCacheStore(time.Hour, 0, nil)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, models.NewUploadSession("id", "a.pdf", 10, 4, "u", time.Now())))

	got, err := s.Update(ctx, "id", func(u *models.UploadSession) error {
		u.MarkReceived(2)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, got.Received())

	boom := errors.New("boom")
	_, err = s.Update(ctx, "id", func(u *models.UploadSession) error {
		u.MarkReceived(0)
		return boom
	})
	require.ErrorIs(t, err, boom)
	got, _ = s.Get(ctx, "id")
	assert.Equal(t, []int{2}, got.Received(), "failed update is discarded")

	_, err = s.Update(ctx, "missing", func(*models.UploadSession) error { return nil })
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCacheStore_ExpiryAndDeleteFireHook(t *testing.T) {
	var (
		mu      sync.Mutex
		evicted []string
	)
	s := NewCacheStore(30*time.Millisecond, 10*time.Millisecond, func(id string) {
		mu.Lock()
		evicted = append(evicted, id)
		mu.Unlock()
	})
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, models.NewUploadSession("gone", "a.pdf", 10, 4, "u", time.Now())))
	require.NoError(t, s.Put(ctx, models.NewUploadSession("deleted", "a.pdf", 10, 4, "u", time.Now())))
	require.NoError(t, s.Delete(ctx, "deleted"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evicted) == 2
	}, time.Second, 10*time.Millisecond)

	_, err := s.Get(ctx, "gone")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCacheStore_UpdateRefreshesTTL(t *testing.T) {
	s := NewCacheStore(80*time.Millisecond, 0, nil)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, models.NewUploadSession("id", "a.pdf", 10, 4, "u", time.Now())))

	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		_, err := s.Update(ctx, "id", func(u *models.UploadSession) error { return nil })
		require.NoError(t, err, "session must stay alive while chunks arrive")
	}
}
