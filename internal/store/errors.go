package store

import "errors"

// ErrUnavailable classifies network or backing-store failures. Services
// wrap raw client errors with it so callers can distinguish infrastructure
// trouble from coordination outcomes.
var ErrUnavailable = errors.New("store unavailable")
