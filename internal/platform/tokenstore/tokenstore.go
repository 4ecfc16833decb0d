package tokenstore

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidTTL = errors.New("tokenstore: ttl must be positive")

// Store maps opaque keys to values that expire after their TTL.
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Get reports ok=false for missing and expired keys.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
}
