package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{ calls int }

func (s *stubClient) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	s.calls++
	return "ok", nil
}
func (s *stubClient) Provider() string { return "stub" }
func (s *stubClient) Model() string    { return "stub-1" }

func TestWithRateLimitPassesThrough(t *testing.T) {
	inner := &stubClient{}
	c := WithRateLimit(inner, 1000, 5)
	for i := 0; i < 3; i++ {
		out, err := c.Complete(context.Background(), "p", Params{})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "stub", c.Provider())
	assert.Equal(t, "stub-1", c.Model())
}

func TestWithRateLimitHonorsContext(t *testing.T) {
	inner := &stubClient{}
	c := WithRateLimit(inner, 0.001, 1)
	_, err := c.Complete(context.Background(), "p", Params{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, "p", Params{})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRateLimitDisabled(t *testing.T) {
	inner := &stubClient{}
	assert.Same(t, Client(inner), WithRateLimit(inner, 0, 1))
}
