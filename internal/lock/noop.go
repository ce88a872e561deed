package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NoopPathLocker grants every acquisition immediately. Use it in
// single-writer deployments or tests where path coordination is not
// needed.
type NoopPathLocker struct{}

// NewNoopPathLocker creates a new no-op path locker.
func NewNoopPathLocker() *NoopPathLocker {
	return &NoopPathLocker{}
}

// TryAcquire always succeeds with a fresh token.
func (n *NoopPathLocker) TryAcquire(ctx context.Context, namespace, path string, ttl time.Duration, policy RetryPolicy) (AcquireResult, error) {
	return AcquireResult{Acquired: true, Token: uuid.NewString()}, ctx.Err()
}

// Release always reports the lock as released.
func (n *NoopPathLocker) Release(ctx context.Context, namespace, path, token string) (bool, error) {
	return true, ctx.Err()
}

// Refresh always reports the lease as extended.
func (n *NoopPathLocker) Refresh(ctx context.Context, namespace, path, token string, ttl time.Duration) (bool, error) {
	return true, ctx.Err()
}

// WithLock runs fn without any coordination.
func (n *NoopPathLocker) WithLock(ctx context.Context, namespace, path string, ttl time.Duration, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Ensure NoopPathLocker implements PathLocker.
var _ PathLocker = (*NoopPathLocker)(nil)
