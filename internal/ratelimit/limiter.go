package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidConfig = errors.New("ratelimit: invalid config")

// Limiter is a fixed-window counter shared by every instance through Redis.
type Limiter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// New builds a limiter allowing limit hits per window for each key.
// prefix namespaces the counters, e.g. "rl:connect".
func New(rdb redis.UniversalClient, prefix string, limit int, window time.Duration) (*Limiter, error) {
	if rdb == nil || prefix == "" || limit <= 0 || window <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Limiter{rdb: rdb, prefix: prefix, limit: limit, window: window}, nil
}

var windowScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = limit (int)
-- ARGV[2] = window_ms (int)
--
-- Returns:
--  1 if allowed
--  0 if rejected (limit reached for this window)
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
elseif redis.call('PTTL', KEYS[1]) < 0 then
  -- key survived without a TTL; never let it pin a caller forever
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end

if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

// Allow records one hit for key and reports whether it is within budget.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("ratelimit: key is required")
	}
	res, err := windowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.limit, l.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: %w", err)
	}
	return res == 1, nil
}
