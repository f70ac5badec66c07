package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter, arming the expiry on
// the first hit. The PTTL re-arm covers keys that lost their expiry.
// Returns: [count, remaining window ms]
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// redisTimeout bounds every counter call so a slow backend cannot stall
// the request path.
const redisTimeout = 100 * time.Millisecond

// RedisCounter shares fixed-window counts across workers.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter creates a counter over an existing client.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "doorman:rl:"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// Incr bumps the counter for key. Errors surface to the caller, which
// decides the fail-open posture.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, c.client,
		[]string{c.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	return res[0], time.Now().Add(time.Duration(res[1]) * time.Millisecond), nil
}
