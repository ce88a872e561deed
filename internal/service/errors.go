// Package service coordinates the locking, concurrency and quota
// primitives into the guarded upload workflow the storage fleet uses.
package service

import "errors"

// Common coordination errors.
var (
	// ErrTooManyUploads means the principal is at its concurrency limit.
	// Clients should retry after a short delay.
	ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

	// ErrQuotaExceeded means the reservation would push the principal's
	// outstanding reserved bytes past its storage tier limit.
	ErrQuotaExceeded = errors.New("reserved quota exceeds storage tier limit")
)
