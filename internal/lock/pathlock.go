package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-coord/internal/metrics"
	"github.com/prn-tf/alexander-coord/internal/pathutil"
	"github.com/prn-tf/alexander-coord/internal/store"
)

// DefaultLockTTL is used when a caller passes a non-positive TTL.
const DefaultLockTTL = 30 * time.Second

// Options configures a RedisPathLocker.
type Options struct {
	// StrictSiblings additionally serializes sibling subtrees that share
	// an ancestor with active descendants, trading parallelism for
	// stronger isolation. Default mode lets disjoint subtrees proceed
	// concurrently.
	StrictSiblings bool

	// MaxPathBytes bounds the normalized path length. Zero means
	// pathutil.DefaultMaxPathBytes.
	MaxPathBytes int
}

// RedisPathLocker implements PathLocker against the shared atomic store.
// It holds no lock state in memory; every decision is made by a
// server-side script so that independent processes coordinate correctly.
type RedisPathLocker struct {
	store          store.Store
	strictSiblings bool
	maxPathBytes   int
	logger         zerolog.Logger
}

// NewRedisPathLocker creates a path locker over the given store.
func NewRedisPathLocker(s store.Store, opts Options, logger zerolog.Logger) *RedisPathLocker {
	return &RedisPathLocker{
		store:          s,
		strictSiblings: opts.StrictSiblings,
		maxPathBytes:   opts.MaxPathBytes,
		logger:         logger.With().Str("service", "pathlock").Logger(),
	}
}

// scriptKeys builds the key list shared by all three lock scripts: the
// path's own lock and descendant counter, then lock/counter pairs for each
// ancestor, shallowest first.
func scriptKeys(namespace, normalized string) []string {
	ancestors := pathutil.Ancestors(normalized)
	keys := make([]string, 0, 2+2*len(ancestors))
	keys = append(keys, lockKey(namespace, normalized), descendantsKey(namespace, normalized))
	for _, ancestor := range ancestors {
		keys = append(keys, lockKey(namespace, ancestor), descendantsKey(namespace, ancestor))
	}
	return keys
}

// TryAcquire attempts to lock the path, retrying with backoff until the
// policy's deadline. Store failures are handled fail-closed: the caller
// never proceeds as if the lock were granted.
func (l *RedisPathLocker) TryAcquire(ctx context.Context, namespace, path string, ttl time.Duration, policy RetryPolicy) (AcquireResult, error) {
	normalized, err := pathutil.NormalizeMax(path, l.maxPathBytes)
	if err != nil {
		return AcquireResult{}, err
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	keys := scriptKeys(namespace, normalized)
	token := uuid.NewString()

	start := time.Now()
	defer func() {
		metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	deadline := start.Add(policy.AcquireTimeout)
	for attempt := 0; ; attempt++ {
		result, err := l.attempt(ctx, keys, token, ttl)
		if err != nil {
			metrics.LockAcquisitions.WithLabelValues("error", "").Inc()
			return AcquireResult{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		if result.Acquired {
			metrics.LockAcquisitions.WithLabelValues("acquired", "").Inc()
			l.logger.Debug().
				Str("namespace", namespace).
				Str("path", normalized).
				Int("attempts", attempt+1).
				Msg("path lock acquired")
			return result, nil
		}

		if policy.AcquireTimeout <= 0 {
			metrics.LockAcquisitions.WithLabelValues("refused", string(result.Reason)).Inc()
			return result, nil
		}

		wait := policy.delay(attempt)
		if time.Now().Add(wait).After(deadline) {
			metrics.LockAcquisitions.WithLabelValues("timeout", string(result.Reason)).Inc()
			l.logger.Debug().
				Str("namespace", namespace).
				Str("path", normalized).
				Str("reason", string(result.Reason)).
				Int("attempts", attempt+1).
				Msg("path lock acquisition timed out")
			return result, nil
		}
		if err := sleep(ctx, wait); err != nil {
			metrics.LockAcquisitions.WithLabelValues("cancelled", string(result.Reason)).Inc()
			return AcquireResult{Reason: result.Reason}, err
		}
	}
}

// attempt runs the acquisition script once.
func (l *RedisPathLocker) attempt(ctx context.Context, keys []string, token string, ttl time.Duration) (AcquireResult, error) {
	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1
	}

	strict := "0"
	if l.strictSiblings {
		strict = "1"
	}

	raw, err := l.store.RunScript(ctx, acquireScript, keys, token, ttlMs, strict)
	if err != nil {
		return AcquireResult{}, err
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return AcquireResult{}, fmt.Errorf("unexpected acquire reply %T", raw)
	}

	if status, _ := reply[0].(int64); status == 1 {
		return AcquireResult{Acquired: true, Token: token}, nil
	}

	reason := ReasonSelfLocked
	if len(reply) > 1 {
		if s, ok := reply[1].(string); ok {
			reason = reasonFromScript(s)
		}
	}
	return AcquireResult{Reason: reason}, nil
}

func reasonFromScript(s string) FailReason {
	switch s {
	case "descendants":
		return ReasonActiveDescendants
	case "ancestor":
		return ReasonAncestorLocked
	case "sibling":
		return ReasonSiblingSubtree
	default:
		return ReasonSelfLocked
	}
}

// Release frees the lock when token matches the current holder and unwinds
// the ancestor descendant counters. Store failures are logged and
// swallowed: the lease self-heals via TTL, and failing the caller's
// otherwise-successful operation is worse than a delayed cleanup.
func (l *RedisPathLocker) Release(ctx context.Context, namespace, path, token string) (bool, error) {
	normalized, err := pathutil.NormalizeMax(path, l.maxPathBytes)
	if err != nil {
		return false, err
	}

	raw, err := l.store.RunScript(ctx, releaseScript, scriptKeys(namespace, normalized), token)
	if err != nil {
		l.logger.Warn().Err(err).
			Str("namespace", namespace).
			Str("path", normalized).
			Msg("lock release failed, lease will expire via TTL")
		return false, nil
	}

	released, _ := raw.(int64)
	if released != 1 {
		l.logger.Debug().
			Str("namespace", namespace).
			Str("path", normalized).
			Msg("release token mismatch, nothing to undo")
		return false, nil
	}
	return true, nil
}

// Refresh extends the lease of a held lock and of every ancestor counter
// that still exists. Long critical sections call this periodically to
// avoid losing the lock mid-operation; the service does not schedule the
// heartbeat itself.
func (l *RedisPathLocker) Refresh(ctx context.Context, namespace, path, token string, ttl time.Duration) (bool, error) {
	normalized, err := pathutil.NormalizeMax(path, l.maxPathBytes)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1
	}

	raw, err := l.store.RunScript(ctx, refreshScript, scriptKeys(namespace, normalized), token, ttlMs)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	refreshed, _ := raw.(int64)
	return refreshed == 1, nil
}

// WithLock acquires the path, runs fn, and releases on every exit path.
// The release runs even when the caller's context is already cancelled.
func (l *RedisPathLocker) WithLock(ctx context.Context, namespace, path string, ttl time.Duration, policy RetryPolicy, fn func(ctx context.Context) error) error {
	result, err := l.TryAcquire(ctx, namespace, path, ttl, policy)
	if err != nil {
		return err
	}
	if !result.Acquired {
		return fmt.Errorf("%w: %s (%s)", ErrLockUnavailable, path, result.Reason)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = l.Release(releaseCtx, namespace, path, result.Token)
	}()

	return fn(ctx)
}

// Ensure RedisPathLocker implements PathLocker.
var _ PathLocker = (*RedisPathLocker)(nil)
