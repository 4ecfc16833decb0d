package lock

import (
	"context"
	"errors"
	"time"
)

// ErrBusy is returned by TryAcquire when another holder owns the key.
var ErrBusy = errors.New("lock: busy")

// Locker hands out exclusive, expiring leases on string keys.
type Locker interface {
	// TryAcquire does not wait. The lease expires after ttl even if the
	// holder never releases it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	Key() string
	// Release is a no-op when the lease already expired or was taken over.
	Release(ctx context.Context) error
}
