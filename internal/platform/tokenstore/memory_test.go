package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestStore() (*MemoryStore, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clk.Now
	return s, clk
}

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	require.NoError(t, s.Put(ctx, "k", "v", time.Hour))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreExpiresOnRead(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore()

	require.NoError(t, s.Put(ctx, "k", "v", time.Minute))
	clk.t = clk.t.Add(time.Minute)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreReap(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore()

	require.NoError(t, s.Put(ctx, "short", "1", time.Minute))
	require.NoError(t, s.Put(ctx, "long", "2", time.Hour))
	clk.t = clk.t.Add(2 * time.Minute)

	assert.Equal(t, 1, s.Reap())
	assert.Equal(t, 1, s.Len())
	v, ok, _ := s.Get(ctx, "long")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestMemoryStoreRejectsNonPositiveTTL(t *testing.T) {
	s, _ := newTestStore()
	assert.ErrorIs(t, s.Put(context.Background(), "k", "v", 0), ErrInvalidTTL)
}
