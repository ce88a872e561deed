package lock

import "errors"

// ErrLockUnavailable indicates the acquisition deadline elapsed without
// the lock being granted. Callers may retry later but should back off
// first; the conflict that caused it is usually still in flight.
var ErrLockUnavailable = errors.New("lock unavailable")
