// Package slots bounds how many operations a principal may have in flight
// at once, and tracks reservable byte quotas per principal. Like the path
// lock, all state lives in the shared atomic store so the limit holds
// across every server process in the fleet.
package slots

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-coord/internal/metrics"
	"github.com/prn-tf/alexander-coord/internal/store"
)

// DefaultSlotTTL is the inflight-counter lease used when a caller passes a
// non-positive TTL. A crashed process's slots free themselves after this.
const DefaultSlotTTL = 5 * time.Minute

// defaultNamespace is the hash-tag namespace for all slot and quota keys.
const defaultNamespace = "slots"

// Key layout:
//
//	{slots}:inflight:<principal>  current concurrent operations, EX ttl
//	{slots}:active                set of principals with inflight > 0
//	{slots}:reserved:<principal>  reserved quota bytes, EX ttl

// acquireSlotScript grants a slot unless the principal is at its limit.
// KEYS: inflight counter, active set. ARGV: max, ttl seconds, principal.
// Returns {granted, current}.
var acquireSlotScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
	return {0, current}
end

current = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
if current == 1 then
	redis.call("SADD", KEYS[2], ARGV[3])
end

return {1, current}
`)

// releaseSlotScript decrements the inflight counter, deleting it and
// deindexing the principal at zero. The counter never goes negative and a
// partial decrement preserves the remaining TTL. KEYS: inflight counter,
// active set. ARGV: principal. Returns the remaining count.
var releaseSlotScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[2], ARGV[1])
	return 0
end

local left = redis.call("DECR", KEYS[1])
if left <= 0 then
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[1])
	return 0
end

return left
`)

// SlotResult is the outcome of a slot request. Current is the inflight
// count after the decision (unchanged when refused).
type SlotResult struct {
	Acquired bool
	Current  int64
}

// Stats summarizes inflight activity across all principals.
type Stats struct {
	ActiveUsers    int     `json:"active_users"`
	ActiveUploads  int64   `json:"active_uploads"`
	AveragePerUser float64 `json:"average_per_user"`
}

// Service is the per-principal concurrency and quota limiter.
type Service struct {
	store     store.Store
	namespace string
	logger    zerolog.Logger
}

// NewService creates a slot service over the given store.
func NewService(s store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:     s,
		namespace: defaultNamespace,
		logger:    logger.With().Str("service", "slots").Logger(),
	}
}

func (s *Service) inflightKey(principal string) string {
	return store.HashTag(s.namespace) + ":inflight:" + principal
}

func (s *Service) activeKey() string {
	return store.HashTag(s.namespace) + ":active"
}

func (s *Service) reservedKey(principal string) string {
	return store.HashTag(s.namespace) + ":reserved:" + principal
}

// TryAcquireSlot grants an operation slot unless the principal already has
// maxConcurrent in flight. The whole read-compare-increment runs as one
// atomic script; concurrent callers from different processes cannot
// overshoot the limit.
func (s *Service) TryAcquireSlot(ctx context.Context, principal string, maxConcurrent int, ttl time.Duration) (SlotResult, error) {
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	ttlSec := int64(ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}

	raw, err := s.store.RunScript(ctx, acquireSlotScript,
		[]string{s.inflightKey(principal), s.activeKey()},
		maxConcurrent, ttlSec, principal)
	if err != nil {
		metrics.SlotDecisions.WithLabelValues("error").Inc()
		return SlotResult{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return SlotResult{}, fmt.Errorf("unexpected slot reply %T", raw)
	}

	granted, _ := reply[0].(int64)
	current, _ := reply[1].(int64)

	if granted == 1 {
		metrics.SlotDecisions.WithLabelValues("granted").Inc()
		return SlotResult{Acquired: true, Current: current}, nil
	}

	metrics.SlotDecisions.WithLabelValues("rejected").Inc()
	s.logger.Debug().
		Str("principal", principal).
		Int64("current", current).
		Int("max", maxConcurrent).
		Msg("slot refused, principal at concurrency limit")
	return SlotResult{Current: current}, nil
}

// ReleaseSlot returns a previously granted slot and reports the remaining
// inflight count. Releasing with nothing in flight is a no-op returning 0.
func (s *Service) ReleaseSlot(ctx context.Context, principal string) (int64, error) {
	raw, err := s.store.RunScript(ctx, releaseSlotScript,
		[]string{s.inflightKey(principal), s.activeKey()},
		principal)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	remaining, _ := raw.(int64)
	return remaining, nil
}

// Stats iterates the active-principal set and batches the inflight counter
// reads into one round trip. Ghost entries (principals indexed as active
// whose counter already expired, left behind by a crash between decrement
// and deindex) are removed opportunistically.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	principals, err := s.store.SMembers(ctx, s.activeKey())
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(principals) == 0 {
		return Stats{}, nil
	}

	keys := make([]string, len(principals))
	for i, p := range principals {
		keys[i] = s.inflightKey(p)
	}
	values, err := s.store.MGet(ctx, keys...)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var stats Stats
	var ghosts []string
	for i, val := range values {
		if val == nil {
			ghosts = append(ghosts, principals[i])
			continue
		}
		count, err := strconv.ParseInt(*val, 10, 64)
		if err != nil || count <= 0 {
			ghosts = append(ghosts, principals[i])
			continue
		}
		stats.ActiveUsers++
		stats.ActiveUploads += count
	}
	if stats.ActiveUsers > 0 {
		stats.AveragePerUser = float64(stats.ActiveUploads) / float64(stats.ActiveUsers)
	}

	if len(ghosts) > 0 {
		if err := s.store.SRem(ctx, s.activeKey(), ghosts...); err != nil {
			s.logger.Warn().Err(err).Int("count", len(ghosts)).Msg("failed to remove ghost principals")
		} else {
			s.logger.Debug().Int("count", len(ghosts)).Msg("removed ghost principals from active set")
		}
	}

	return stats, nil
}

// HealthCheck reports whether the backing store is fully operational.
func (s *Service) HealthCheck(ctx context.Context) bool {
	return s.store.HealthCheck(ctx)
}
