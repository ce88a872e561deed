package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/prn-tf/alexander-coord/internal/config"
)

// Redis implements Store over a Redis-compatible backend. It works with a
// single node or a cluster client; key layouts use hash tags so multi-key
// scripts stay on one partition in a sharded deployment.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing Redis client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Connect creates a Redis client from configuration and verifies
// connectivity before returning.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect %s: %w", cfg.Addr(), err)
	}

	return &Redis{client: client}, nil
}

// Close releases the underlying client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Get returns the value at key, or ok=false when the key is absent.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetNX sets key to value with a TTL only if the key does not exist.
func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

// Del removes the given keys.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Expire sets a TTL on an existing key.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, key, ttl).Result()
}

// IncrBy atomically adds delta to the counter at key.
func (r *Redis) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return r.client.IncrBy(ctx, key, delta).Result()
}

// DecrBy atomically subtracts delta from the counter at key.
func (r *Redis) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return r.client.DecrBy(ctx, key, delta).Result()
}

// SAdd adds members to the set at key.
func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.SAdd(ctx, key, args...).Err()
}

// SRem removes members from the set at key.
func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.SRem(ctx, key, args...).Err()
}

// SMembers returns all members of the set at key.
func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

// MGet returns the values for keys in order; absent keys yield nil. The
// reads are issued in one pipelined round trip.
func (r *Redis) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	values := make([]*string, len(keys))
	for i, cmd := range cmds {
		val, err := cmd.Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		values[i] = &val
	}
	return values, nil
}

// RunScript executes a server-side script atomically, loading it into the
// script cache on first use.
func (r *Redis) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	return script.Run(ctx, r.client, keys, args...).Result()
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// HealthCheck round-trips a write/read/delete against the store. A store
// that answers PING but cannot persist writes is reported unhealthy.
func (r *Redis) HealthCheck(ctx context.Context) bool {
	key := "health:probe:" + uuid.NewString()

	if err := r.client.Set(ctx, key, "1", 10*time.Second).Err(); err != nil {
		return false
	}
	val, err := r.client.Get(ctx, key).Result()
	if err != nil || val != "1" {
		return false
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return false
	}
	return true
}

// Ensure Redis implements Store.
var _ Store = (*Redis)(nil)
