package reserve

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// defaultKeyPrefix namespaces reservation counters in Redis.
const defaultKeyPrefix = "hushbox:reserve:"

// counterTTL bounds how long a stranded counter can survive a crashed
// process. Healthy reservations are released within one inference call, so
// the TTL only has to outlive the longest plausible streamed completion.
const counterTTL = 30 * time.Minute

// incrScript adds the delta and refreshes the TTL in one server-side step,
// returning the new total. INCRBYFLOAT alone is atomic, but the script keeps
// the expiry refresh in the same round trip.
var incrScript = goredis.NewScript(`
local total = redis.call("INCRBYFLOAT", KEYS[1], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return tostring(total)
`)

// RedisCounter is a Redis-backed Counter safe for multi-instance
// deployments.
type RedisCounter struct {
	client    goredis.Cmdable
	keyPrefix string
}

// RedisOption configures RedisCounter.
type RedisOption func(*RedisCounter)

// WithKeyPrefix overrides the Redis key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCounter) { c.keyPrefix = prefix }
}

// NewRedisCounter constructs a RedisCounter over a connected client.
func NewRedisCounter(client goredis.Cmdable, opts ...RedisOption) *RedisCounter {
	c := &RedisCounter{client: client, keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCounter) key(scope string) string { return c.keyPrefix + scope }

// Increment atomically adds delta cents to a scope counter and returns the
// new total.
func (c *RedisCounter) Increment(ctx context.Context, key string, delta float64) (float64, error) {
	raw, errRun := incrScript.Run(ctx, c.client,
		[]string{c.key(key)},
		strconv.FormatFloat(delta, 'f', -1, 64),
		counterTTL.Milliseconds(),
	).Text()
	if errRun != nil {
		return 0, fmt.Errorf("reserve: redis increment: %w", errRun)
	}
	total, errParse := strconv.ParseFloat(raw, 64)
	if errParse != nil {
		return 0, fmt.Errorf("reserve: redis increment result %q: %w", raw, errParse)
	}
	return total, nil
}

// Total reads the current reserved total for a scope without mutating it.
func (c *RedisCounter) Total(ctx context.Context, key string) (float64, error) {
	raw, errGet := c.client.Get(ctx, c.key(key)).Result()
	if errGet == goredis.Nil {
		return 0, nil
	}
	if errGet != nil {
		return 0, fmt.Errorf("reserve: redis total: %w", errGet)
	}
	total, errParse := strconv.ParseFloat(raw, 64)
	if errParse != nil {
		return 0, fmt.Errorf("reserve: redis total %q: %w", raw, errParse)
	}
	return total, nil
}

var _ Counter = (*RedisCounter)(nil)
