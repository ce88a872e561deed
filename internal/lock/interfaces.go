// Package lock provides a distributed hierarchical path lock over the
// shared atomic store. A lock on a folder path excludes locks on any
// ancestor or descendant of that path, so no two operations ever mutate
// overlapping storage subtrees concurrently.
package lock

import (
	"context"
	"time"
)

// FailReason classifies why a single acquisition attempt was refused.
type FailReason string

const (
	// ReasonNone means the attempt succeeded.
	ReasonNone FailReason = ""

	// ReasonSelfLocked means another holder has the path itself.
	ReasonSelfLocked FailReason = "self locked"

	// ReasonAncestorLocked means an ancestor of the path is locked.
	ReasonAncestorLocked FailReason = "ancestor locked"

	// ReasonActiveDescendants means a lock is held somewhere below the
	// path; a broader scope cannot be claimed over a granted narrower one.
	ReasonActiveDescendants FailReason = "self has active descendants"

	// ReasonSiblingSubtree means strict-siblings mode refused the attempt
	// because an ancestor has active descendants in another subtree.
	ReasonSiblingSubtree FailReason = "sibling subtree active"
)

// AcquireResult is the outcome of an acquisition attempt. Token is the
// ownership proof for the matching Release/Refresh calls and is only set
// when Acquired is true.
type AcquireResult struct {
	Acquired bool
	Token    string
	Reason   FailReason
}

// PathLocker grants exclusive access to hierarchical storage paths.
// Implementations must resolve concurrent acquisitions atomically; at most
// one of any set of competing callers for overlapping paths wins.
type PathLocker interface {
	// TryAcquire attempts to lock the path, retrying with backoff until
	// the policy's deadline. A zero AcquireTimeout means exactly one
	// attempt. A refused acquisition is not an error; store failures are.
	TryAcquire(ctx context.Context, namespace, path string, ttl time.Duration, policy RetryPolicy) (AcquireResult, error)

	// Release frees the lock if token matches the current holder. A
	// false return means there was nothing to undo (expired or foreign
	// lock), never a failure to retry.
	Release(ctx context.Context, namespace, path, token string) (bool, error)

	// Refresh extends the lease of a held lock and its ancestor
	// accounting. Returns false when token no longer matches.
	Refresh(ctx context.Context, namespace, path, token string, ttl time.Duration) (bool, error)

	// WithLock acquires the path, runs fn, and releases on every exit
	// path. Fails with ErrLockUnavailable when acquisition times out.
	WithLock(ctx context.Context, namespace, path string, ttl time.Duration, policy RetryPolicy, fn func(ctx context.Context) error) error
}
