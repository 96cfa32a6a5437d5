package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first INCR in a window arms the expiry, so the window is fixed from
// the first admission rather than sliding.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type RedisLimiter struct {
	Client   redis.Scripter
	Limit    int
	Window   time.Duration
	Prefix   string
	Policy   FailurePolicy
	Fallback *InMemoryLimiter
}

func NewRedis(client redis.Scripter, limit int, window time.Duration, policy FailurePolicy) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if policy == "" {
		policy = FailClosed
	}
	l := &RedisLimiter{
		Client: client,
		Limit:  limit,
		Window: window,
		Prefix: "tanyaaja:rl:",
		Policy: policy,
	}
	if policy == FailLocal {
		l.Fallback = NewInMemory(limit, window)
	}
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l.Client == nil {
		return l.fail(ctx, key, fmt.Errorf("redis client not configured"))
	}
	res, err := fixedWindowScript.Run(ctx, l.Client, []string{l.Prefix + key}, l.Window.Milliseconds()).Result()
	if err != nil {
		return l.fail(ctx, key, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.fail(ctx, key, fmt.Errorf("unexpected script result %T", res))
	}
	count, ok := vals[0].(int64)
	if !ok {
		return l.fail(ctx, key, fmt.Errorf("unexpected counter type %T", vals[0]))
	}
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.Window.Milliseconds()
	}
	resetAt := time.Now().UTC().Add(time.Duration(ttlMs) * time.Millisecond)
	return newDecision(int(count), l.Limit, resetAt), nil
}

func (l *RedisLimiter) fail(ctx context.Context, key string, cause error) (Decision, error) {
	switch l.Policy {
	case FailOpen:
		d := Synthetic(l.Limit)
		d.ResetAt = time.Now().UTC().Add(l.Window)
		return d, nil
	case FailLocal:
		if l.Fallback != nil {
			return l.Fallback.Allow(ctx, key)
		}
	}
	return Decision{Limit: l.Limit}, fmt.Errorf("%w: %v", ErrUnavailable, cause)
}
