package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] counter hash; ARGV[1] window start; ARGV[2] limit; ARGV[3] ttl ms.
// Returns {count, admitted}.
var hitScript = redis.NewScript(`
local w = redis.call('HGET', KEYS[1], 'w')
local c = tonumber(redis.call('HGET', KEYS[1], 'c') or '0')
if w == ARGV[1] then
	if c >= tonumber(ARGV[2]) then
		return {c, 0}
	end
	c = redis.call('HINCRBY', KEYS[1], 'c', 1)
else
	redis.call('HSET', KEYS[1], 'w', ARGV[1], 'c', 1)
	c = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {c, 1}`)

// Counter is a fixed-window counter stored as a small hash per identity.
type Counter struct {
	client redis.UniversalClient
}

// NewCounter constructs a Counter.
func NewCounter(client redis.UniversalClient) (*Counter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Counter{client: client}, nil
}

// Hit atomically admits or rejects one request for key.
func (c *Counter) Hit(ctx context.Context, key string, windowStart int64, limit int, ttl time.Duration) (int, bool, error) {
	res, err := hitScript.Run(
		ctx,
		c.client,
		[]string{key},
		strconv.FormatInt(windowStart, 10),
		limit,
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("rate limit hit %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("rate limit hit %s: unexpected reply %v", key, res)
	}
	return int(res[0]), res[1] == 1, nil
}
