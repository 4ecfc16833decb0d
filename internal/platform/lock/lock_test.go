package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := "character:" + uuid.NewString()

	lease, err := l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, key, lease.Key())

	_, err = l.TryAcquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrBusy)

	other, err := l.TryAcquire(ctx, key+"-other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker(t *testing.T) {
	exerciseLocker(t, NewMemoryLocker())
}

func TestMemoryLockerExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	stale, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// A stale holder must not release the new lease.
	require.NoError(t, stale.Release(ctx))
	_, err = l.TryAcquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrBusy)
	require.NoError(t, fresh.Release(ctx))
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	exerciseLocker(t, NewRedisLocker(rdb, "test:lock:"))
}
