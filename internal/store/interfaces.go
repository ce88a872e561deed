// Package store provides the shared atomic key-value store client used by
// the coordination services. All durable lock and counter state lives in
// this store; the services themselves are stateless.
package store

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store is the atomic-store contract the coordination services depend on.
// It is the subset of a Redis-compatible command surface they use: plain
// key/counter/set commands plus a server-side scripting facility for
// multi-step check-then-act sequences that must be indivisible.
type Store interface {
	// Get returns the value at key, or ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// SetNX sets key to value with a TTL only if the key does not exist.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IncrBy and DecrBy atomically adjust an integer counter.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)

	// SAdd, SRem and SMembers manage a set of string members.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// MGet returns the values for keys in order; absent keys yield nil.
	// Reads are pipelined into a single round trip.
	MGet(ctx context.Context, keys ...string) ([]*string, error)

	// RunScript executes a server-side script atomically. No other
	// command interleaves with the script's steps.
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// HealthCheck round-trips a write/read/delete to confirm the store
	// is fully operational, not just reachable.
	HealthCheck(ctx context.Context) bool
}
