package lock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-coord/internal/pathutil"
	"github.com/prn-tf/alexander-coord/internal/store"
)

const testNS = "bucket-1"

func newTestLocker(t *testing.T, opts Options) (*RedisPathLocker, *miniredis.Miniredis, *store.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedis(client)
	return NewRedisPathLocker(st, opts, zerolog.Nop()), mr, st
}

func mustAcquire(t *testing.T, l *RedisPathLocker, path string) string {
	t.Helper()
	res, err := l.TryAcquire(context.Background(), testNS, path, time.Minute, NoRetry())
	require.NoError(t, err)
	require.True(t, res.Acquired, "expected to acquire %s, refused: %s", path, res.Reason)
	require.NotEmpty(t, res.Token)
	return res.Token
}

func TestTryAcquireAndRelease(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	token := mustAcquire(t, l, "files/2025/")

	released, err := l.Release(ctx, testNS, "files/2025/", token)
	require.NoError(t, err)
	require.True(t, released)

	// Released path is immediately acquirable again.
	mustAcquire(t, l, "files/2025/")
}

func TestMutualExclusionSamePath(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	mustAcquire(t, l, "files/2025/")

	res, err := l.TryAcquire(ctx, testNS, "files/2025/", time.Minute, NoRetry())
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.Equal(t, ReasonSelfLocked, res.Reason)
	require.Empty(t, res.Token)
}

func TestMutualExclusionConcurrent(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	results := make([]AcquireResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.TryAcquire(ctx, testNS, "files/2025/", time.Minute, NoRetry())
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	acquired := 0
	for _, res := range results {
		if res.Acquired {
			acquired++
		}
	}
	require.Equal(t, 1, acquired)
}

func TestAncestorLockedBlocksDescendant(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	mustAcquire(t, l, "files/2025/")

	res, err := l.TryAcquire(ctx, testNS, "files/2025/q1/", time.Minute, NoRetry())
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.Equal(t, ReasonAncestorLocked, res.Reason)
}

func TestDescendantLockedBlocksAncestor(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	mustAcquire(t, l, "files/2025/q1/")

	res, err := l.TryAcquire(ctx, testNS, "files/2025/", time.Minute, NoRetry())
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.Equal(t, ReasonActiveDescendants, res.Reason)

	// The top-level ancestor is blocked too.
	res, err = l.TryAcquire(ctx, testNS, "files/", time.Minute, NoRetry())
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.Equal(t, ReasonActiveDescendants, res.Reason)
}

func TestSiblingSubtreesDefaultMode(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})

	mustAcquire(t, l, "files/2025/q1/")
	// Disjoint sibling subtree proceeds concurrently in default mode.
	mustAcquire(t, l, "files/2025/q2/")
}

func TestSiblingSubtreesStrictMode(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{StrictSiblings: true})
	ctx := context.Background()

	mustAcquire(t, l, "files/2025/q1/")

	res, err := l.TryAcquire(ctx, testNS, "files/2025/q2/", time.Minute, NoRetry())
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.Equal(t, ReasonSiblingSubtree, res.Reason)
}

func TestNamespacesAreIsolated(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	mustAcquire(t, l, "files/2025/")

	res, err := l.TryAcquire(ctx, "bucket-2", "files/2025/", time.Minute, NoRetry())
	require.NoError(t, err)
	require.True(t, res.Acquired)
}

func TestTTLSelfHealing(t *testing.T) {
	l, mr, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	res, err := l.TryAcquire(ctx, testNS, "files/2025/q1/", time.Second, NoRetry())
	require.NoError(t, err)
	require.True(t, res.Acquired)

	// Holder crashes without releasing; the lease expires on its own.
	mr.FastForward(1100 * time.Millisecond)

	mustAcquire(t, l, "files/2025/q1/")
	// Ancestor counters expired alongside the lock, so the ancestor is
	// acquirable once the child releases.
}

func TestReleaseWrongToken(t *testing.T) {
	l, _, st := newTestLocker(t, Options{})
	ctx := context.Background()

	mustAcquire(t, l, "files/2025/")

	released, err := l.Release(ctx, testNS, "files/2025/", "not-the-token")
	require.NoError(t, err)
	require.False(t, released)

	// The real lock is untouched.
	_, ok, err := st.Get(ctx, lockKey(testNS, "files/2025/"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseUnwindsAncestorCounters(t *testing.T) {
	l, _, st := newTestLocker(t, Options{})
	ctx := context.Background()

	tokQ1 := mustAcquire(t, l, "files/2025/q1/")
	tokQ2 := mustAcquire(t, l, "files/2025/q2/")

	val, ok, err := st.Get(ctx, descendantsKey(testNS, "files/2025/"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", val)

	released, err := l.Release(ctx, testNS, "files/2025/q1/", tokQ1)
	require.NoError(t, err)
	require.True(t, released)

	val, ok, err = st.Get(ctx, descendantsKey(testNS, "files/2025/"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val)

	released, err = l.Release(ctx, testNS, "files/2025/q2/", tokQ2)
	require.NoError(t, err)
	require.True(t, released)

	// Counter reaching zero is deleted, not persisted.
	_, ok, err = st.Get(ctx, descendantsKey(testNS, "files/2025/"))
	require.NoError(t, err)
	require.False(t, ok)

	// With the subtree drained the ancestor is lockable.
	mustAcquire(t, l, "files/2025/")
}

func TestDescendantAccountingInvariant(t *testing.T) {
	l, _, st := newTestLocker(t, Options{})
	ctx := context.Background()

	// Interleaved acquire/release pairs across a small tree; after each
	// step every ancestor counter must equal the number of locks held in
	// its subtree.
	paths := []string{
		"a/b/c/",
		"a/b/d/",
		"a/e/",
		"x/y/",
	}
	held := map[string]string{}

	verify := func() {
		counts := map[string]int{}
		for p := range held {
			for _, anc := range pathutil.Ancestors(p) {
				counts[anc]++
			}
		}
		for _, anc := range []string{"a/", "a/b/", "x/"} {
			val, ok, err := st.Get(ctx, descendantsKey(testNS, anc))
			require.NoError(t, err)
			if counts[anc] == 0 {
				require.False(t, ok, "counter for %s should be deleted", anc)
				continue
			}
			require.True(t, ok, "counter for %s missing", anc)
			require.Equal(t, strconv.Itoa(counts[anc]), val, "counter for %s", anc)
		}
	}

	for round := 0; round < 3; round++ {
		for _, p := range paths {
			held[p] = mustAcquire(t, l, p)
			verify()
		}
		for _, p := range paths {
			released, err := l.Release(ctx, testNS, p, held[p])
			require.NoError(t, err)
			require.True(t, released)
			delete(held, p)
			verify()
		}
	}
}

func TestRefresh(t *testing.T) {
	l, mr, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	token := mustAcquire(t, l, "files/2025/q1/")

	refreshed, err := l.Refresh(ctx, testNS, "files/2025/q1/", token, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, refreshed)

	// The original one-minute lease would have expired by now; the
	// refreshed one has not.
	mr.FastForward(90 * time.Second)

	refreshed, err = l.Refresh(ctx, testNS, "files/2025/q1/", token, time.Minute)
	require.NoError(t, err)
	require.True(t, refreshed)

	refreshed, err = l.Refresh(ctx, testNS, "files/2025/q1/", "wrong-token", time.Minute)
	require.NoError(t, err)
	require.False(t, refreshed)
}

func TestRefreshExtendsAncestorCounters(t *testing.T) {
	l, mr, st := newTestLocker(t, Options{})
	ctx := context.Background()

	token := mustAcquire(t, l, "files/2025/q1/")

	refreshed, err := l.Refresh(ctx, testNS, "files/2025/q1/", token, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, refreshed)

	mr.FastForward(2 * time.Minute)

	// Ancestor accounting survived past the original lease.
	_, ok, err := st.Get(ctx, descendantsKey(testNS, "files/"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTryAcquireRetriesUntilHolderReleases(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	token := mustAcquire(t, l, "files/2025/")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = l.Release(context.Background(), testNS, "files/2025/", token)
	}()

	policy := RetryPolicy{
		AcquireTimeout:   2 * time.Second,
		BaseDelay:        20 * time.Millisecond,
		MaxBackoffFactor: 4,
	}
	res, err := l.TryAcquire(ctx, testNS, "files/2025/", time.Minute, policy)
	require.NoError(t, err)
	require.True(t, res.Acquired)
}

func TestTryAcquireDeadlineExceeded(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	mustAcquire(t, l, "files/2025/")

	policy := RetryPolicy{
		AcquireTimeout:   150 * time.Millisecond,
		BaseDelay:        20 * time.Millisecond,
		MaxBackoffFactor: 4,
	}
	start := time.Now()
	res, err := l.TryAcquire(ctx, testNS, "files/2025/", time.Minute, policy)
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.Equal(t, ReasonSelfLocked, res.Reason)
	require.Less(t, time.Since(start), time.Second)
}

func TestTryAcquireInvalidPath(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	_, err := l.TryAcquire(ctx, testNS, "files/../etc/", time.Minute, NoRetry())
	require.ErrorIs(t, err, pathutil.ErrInvalidPath)

	_, err = l.TryAcquire(ctx, testNS, "", time.Minute, NoRetry())
	require.ErrorIs(t, err, pathutil.ErrInvalidPath)
}

func TestWithLockReleasesOnSuccessAndFailure(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	err := l.WithLock(ctx, testNS, "files/2025/", time.Minute, NoRetry(), func(ctx context.Context) error {
		// Re-acquiring inside the critical section must fail.
		res, err := l.TryAcquire(ctx, testNS, "files/2025/", time.Minute, NoRetry())
		require.NoError(t, err)
		require.False(t, res.Acquired)
		return nil
	})
	require.NoError(t, err)

	// Lock released after a successful operation.
	mustAcquire(t, l, "files/2025/")

	opErr := errors.New("operation failed")
	err = l.WithLock(ctx, testNS, "reports/", time.Minute, NoRetry(), func(ctx context.Context) error {
		return opErr
	})
	require.ErrorIs(t, err, opErr)

	// Lock released after a failed operation too.
	mustAcquire(t, l, "reports/")
}

func TestWithLockUnavailable(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	mustAcquire(t, l, "files/2025/")

	err := l.WithLock(ctx, testNS, "files/2025/", time.Minute, NoRetry(), func(ctx context.Context) error {
		t.Fatal("operation must not run without the lock")
		return nil
	})
	require.ErrorIs(t, err, ErrLockUnavailable)
}

func TestScenarioAncestorThenChild(t *testing.T) {
	l, _, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	token, err := l.TryAcquire(ctx, testNS, "files/2025/", 5*time.Second, NoRetry())
	require.NoError(t, err)
	require.True(t, token.Acquired)

	res, err := l.TryAcquire(ctx, testNS, "files/2025/q1/", 5*time.Second, NoRetry())
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.Equal(t, ReasonAncestorLocked, res.Reason)

	released, err := l.Release(ctx, testNS, "files/2025/", token.Token)
	require.NoError(t, err)
	require.True(t, released)

	res, err = l.TryAcquire(ctx, testNS, "files/2025/q1/", 5*time.Second, NoRetry())
	require.NoError(t, err)
	require.True(t, res.Acquired)
}

func TestFailClosedOnStoreError(t *testing.T) {
	l, mr, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	mr.Close()

	_, err := l.TryAcquire(ctx, testNS, "files/2025/", time.Minute, NoRetry())
	require.ErrorIs(t, err, store.ErrUnavailable)
}

func TestReleaseSwallowsStoreError(t *testing.T) {
	l, mr, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	token := mustAcquire(t, l, "files/2025/")
	mr.Close()

	released, err := l.Release(ctx, testNS, "files/2025/", token)
	require.NoError(t, err)
	require.False(t, released)
}

func TestNoopPathLocker(t *testing.T) {
	l := NewNoopPathLocker()
	ctx := context.Background()

	res, err := l.TryAcquire(ctx, testNS, "anything/", time.Minute, NoRetry())
	require.NoError(t, err)
	require.True(t, res.Acquired)
	require.NotEmpty(t, res.Token)

	ran := false
	err = l.WithLock(ctx, testNS, "anything/", time.Minute, NoRetry(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}
