package slots

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/prn-tf/alexander-coord/internal/metrics"
	"github.com/prn-tf/alexander-coord/internal/store"
)

// DefaultQuotaTTL bounds how long an unconsumed reservation survives.
// Abandoned presigned-upload reservations free their bytes after this.
const DefaultQuotaTTL = time.Hour

// reserveQuotaScript adds bytes to the principal's reservation, creating
// the counter with the given TTL when absent and extending it otherwise.
// KEYS: reserved counter. ARGV: bytes, ttl seconds. Returns the new total.
var reserveQuotaScript = redis.NewScript(`
local total = redis.call("INCRBY", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
return total
`)

// consumeQuotaScript subtracts bytes only when the reservation covers
// them; it never drives the counter negative and deletes it at zero.
// KEYS: reserved counter. ARGV: bytes, ttl seconds.
// Returns {ok, remaining, fullyReleased}.
var consumeQuotaScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local want = tonumber(ARGV[1])
if current < want then
	return {0, current, 0}
end

local left = redis.call("DECRBY", KEYS[1], want)
if left <= 0 then
	redis.call("DEL", KEYS[1])
	return {1, 0, 1}
end

redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
return {1, left, 0}
`)

// QuotaResult is the outcome of a quota consumption. Remaining is the
// reservation left afterwards; on refusal it is the unchanged current
// value. FullyReleased reports that the reservation dropped to zero and
// its counter was deleted.
type QuotaResult struct {
	OK            bool
	Remaining     int64
	FullyReleased bool
}

// ReserveQuota atomically adds bytes to the principal's reserved-quota
// counter and returns the new total. Callers compare the total against the
// principal's storage tier limit before handing out presigned uploads.
func (s *Service) ReserveQuota(ctx context.Context, principal string, bytes int64, ttl time.Duration) (int64, error) {
	if bytes <= 0 {
		return 0, fmt.Errorf("reserve quota: bytes must be positive, got %d", bytes)
	}
	ttlSec := quotaTTLSeconds(ttl)

	raw, err := s.store.RunScript(ctx, reserveQuotaScript,
		[]string{s.reservedKey(principal)}, bytes, ttlSec)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	total, _ := raw.(int64)
	return total, nil
}

// ConsumeQuota atomically subtracts bytes from the principal's reservation
// if and only if the reservation covers them. A refused consumption leaves
// the counter untouched.
func (s *Service) ConsumeQuota(ctx context.Context, principal string, bytes int64, ttl time.Duration) (QuotaResult, error) {
	if bytes <= 0 {
		return QuotaResult{}, fmt.Errorf("consume quota: bytes must be positive, got %d", bytes)
	}
	ttlSec := quotaTTLSeconds(ttl)

	raw, err := s.store.RunScript(ctx, consumeQuotaScript,
		[]string{s.reservedKey(principal)}, bytes, ttlSec)
	if err != nil {
		return QuotaResult{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return QuotaResult{}, fmt.Errorf("unexpected quota reply %T", raw)
	}

	okFlag, _ := reply[0].(int64)
	remaining, _ := reply[1].(int64)
	released, _ := reply[2].(int64)

	if okFlag != 1 {
		metrics.QuotaRejections.Inc()
		s.logger.Debug().
			Str("principal", principal).
			Int64("requested", bytes).
			Int64("reserved", remaining).
			Msg("quota consumption refused, reservation insufficient")
		return QuotaResult{Remaining: remaining}, nil
	}

	return QuotaResult{OK: true, Remaining: remaining, FullyReleased: released == 1}, nil
}

// ResetQuota drops the principal's reservation entirely.
func (s *Service) ResetQuota(ctx context.Context, principal string) error {
	if err := s.store.Del(ctx, s.reservedKey(principal)); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func quotaTTLSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = DefaultQuotaTTL
	}
	sec := int64(ttl / time.Second)
	if sec <= 0 {
		sec = 1
	}
	return sec
}
