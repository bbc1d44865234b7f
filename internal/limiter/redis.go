package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const slotTTL = 24 * time.Hour

// rateScript trims, counts, and conditionally records in one atomic step,
// so concurrent invocations on different hosts cannot both observe a free
// slot under the ceiling. Returns {allowed, remaining, resetMillis}.
const rateScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local windowMs = tonumber(ARGV[4])
local member = ARGV[5]

redis.call("ZREMRANGEBYSCORE", key, 0, windowStart)
local count = redis.call("ZCARD", key)
if count >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    local resetAt = now + windowMs
    if #oldest > 0 then
        resetAt = tonumber(oldest[2]) + windowMs
    end
    return {0, 0, resetAt}
end
redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, windowMs)
return {1, limit - count - 1, now + windowMs}
`

// RedisGovernor implements Governor on a shared redis instance. Slots are
// a plain counter with a floor at zero; the rate window is a sorted set of
// event timestamps.
type RedisGovernor struct {
	cmd      redis.Cmdable
	maxSlots int
}

func NewRedisGovernor(cmd redis.Cmdable, maxSlots int) *RedisGovernor {
	return &RedisGovernor{cmd: cmd, maxSlots: maxSlots}
}

func (g *RedisGovernor) TryAcquireCampaignSlot(ctx context.Context, ownerID int) (bool, error) {
	key := slotKey(ownerID)

	count, err := g.cmd.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	// Refresh expiry so an owner whose releases were lost to a crash is
	// not locked out forever.
	if err := g.cmd.Expire(ctx, key, slotTTL).Err(); err != nil {
		g.cmd.Decr(ctx, key)
		return false, err
	}

	if count > int64(g.maxSlots) {
		g.cmd.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

func (g *RedisGovernor) ReleaseCampaignSlot(ctx context.Context, ownerID int) error {
	key := slotKey(ownerID)

	count, err := g.cmd.Decr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count < 0 {
		return g.cmd.Set(ctx, key, 0, slotTTL).Err()
	}
	return nil
}

func (g *RedisGovernor) CheckRate(ctx context.Context, key string, limit int, window time.Duration) (RateResult, error) {
	now := time.Now()

	raw, err := g.cmd.Eval(ctx, rateScript,
		[]string{rateKey(key)},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		window.Milliseconds(),
		uuid.NewString(),
	).Slice()
	if err != nil {
		return RateResult{}, err
	}
	if len(raw) != 3 {
		return RateResult{}, fmt.Errorf("rate script returned %d values, want 3", len(raw))
	}

	allowed, _ := raw[0].(int64)
	remaining, _ := raw[1].(int64)
	resetMillis, _ := raw[2].(int64)

	return RateResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetAt:   time.UnixMilli(resetMillis),
	}, nil
}

func slotKey(ownerID int) string {
	return fmt.Sprintf("campaign:slots:%d", ownerID)
}

func rateKey(key string) string {
	return "ratelimit:" + key
}

var _ Governor = (*RedisGovernor)(nil)
