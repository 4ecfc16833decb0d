package ai

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit caps the request rate of next across all callers.
func WithRateLimit(next Client, perSecond float64, burst int) Client {
	if next == nil || perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimited) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.Complete(ctx, prompt, p)
}

func (r *rateLimited) Provider() string { return r.next.Provider() }
func (r *rateLimited) Model() string    { return r.next.Model() }
