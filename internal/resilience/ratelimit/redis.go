package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript performs the whole fixed-window decision in one atomic step:
// check the penalty box, bump the window counter, and on exhaustion record
// the violation and arm the block. Returns {allowed, remaining, retryAfterMs}.
var consumeScript = redis.NewScript(`
local counterKey = KEYS[1]
local blockKey = KEYS[2]
local violationsKey = KEYS[3]

local points = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local blockMs = tonumber(ARGV[3])
local progressive = tonumber(ARGV[4])
local maxMultiplier = tonumber(ARGV[5])

local blockedMs = redis.call('PTTL', blockKey)
if blockedMs > 0 then
	return {0, 0, blockedMs}
end

local current = redis.call('INCR', counterKey)
if current == 1 then
	redis.call('PEXPIRE', counterKey, windowMs)
end
local windowLeftMs = redis.call('PTTL', counterKey)
if windowLeftMs < 0 then
	windowLeftMs = windowMs
end

if current > points then
	if blockMs > 0 then
		local violations = redis.call('INCR', violationsKey)
		redis.call('PEXPIRE', violationsKey, windowMs * 2)
		local multiplier = 1
		if progressive == 1 then
			multiplier = math.min(violations, maxMultiplier)
		end
		local penaltyMs = blockMs * multiplier
		redis.call('SET', blockKey, '1', 'PX', penaltyMs)
		return {0, 0, penaltyMs}
	end
	return {0, 0, windowLeftMs}
end

return {1, points - current, windowLeftMs}
`)

// RedisStore backs rate limit counters with Redis so every instance of a
// service enforces one shared budget.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store over an existing client. All keys carry the
// "fabric:ratelimit:" prefix.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "fabric:ratelimit:"}
}

func (s *RedisStore) Consume(ctx context.Context, key string, policy Policy) (Decision, error) {
	keys := []string{
		s.prefix + key,
		s.prefix + key + ":block",
		s.prefix + key + ":violations",
	}
	progressive := 0
	if policy.ProgressiveBlock {
		progressive = 1
	}
	args := []any{
		policy.Points,
		policy.Duration.Milliseconds(),
		policy.BlockDuration.Milliseconds(),
		progressive,
		policy.MaxBlockMultiplier,
	}

	raw, err := consumeScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("running consume script: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) != 3 {
		return Decision{}, fmt.Errorf("unexpected consume script reply %T", raw)
	}
	allowed, remaining, waitMs := toInt64(reply[0]), toInt64(reply[1]), toInt64(reply[2])

	now := time.Now()
	decision := Decision{
		Allowed:   allowed == 1,
		Remaining: remaining,
		ResetAt:   now.Add(time.Duration(waitMs) * time.Millisecond).UnixMilli(),
	}
	if !decision.Allowed {
		decision.RetryAfter = waitMs
	}
	return decision, nil
}

func toInt64(v any) int64 {
	n, _ := v.(int64)
	return n
}
