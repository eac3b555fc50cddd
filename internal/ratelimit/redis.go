package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// One sorted set per key; scores are hit times in microseconds. The script
// prunes and counts every key of a request, then records the hit in all of
// them only if none is full, so concurrent servers sharing the sets cannot
// overshoot a limit and a denial leaves every counter as it was.
//
// ARGV is now, member, then period and limit for each key in order. The reply
// is the overall verdict followed by used and oldest for each key.
var hitScript = redis.NewScript(`
local now    = tonumber(ARGV[1])
local member = ARGV[2]
local out    = {1}

for i = 1, #KEYS do
  local period = tonumber(ARGV[1 + 2 * i])
  local limit  = tonumber(ARGV[2 + 2 * i])
  redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', now - period)
  local used = redis.call('ZCARD', KEYS[i])
  local oldest = -1
  local first = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
  if first[2] then oldest = tonumber(first[2]) end
  if used >= limit then out[1] = 0 end
  out[#out + 1] = used
  out[#out + 1] = oldest
end

if out[1] == 1 then
  for i = 1, #KEYS do
    redis.call('ZADD', KEYS[i], now, member)
    redis.call('PEXPIRE', KEYS[i], math.ceil(tonumber(ARGV[1 + 2 * i]) / 1000))
  end
end
return out
`)

// RedisStore shares counters between server processes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

// Hit runs every key through one script call. The keys of a request live on
// different hash slots, so the store needs a single Redis node rather than a
// cluster.
func (s *RedisStore) Hit(ctx context.Context, keys []Key, now time.Time) ([]Decision, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	nowUS := now.UnixMicro()

	names := make([]string, len(keys))
	args := make([]interface{}, 0, 2+2*len(keys))
	args = append(args, nowUS, uuid.NewString())
	for i, k := range keys {
		names[i] = s.prefix + k.Name
		args = append(args, k.Window.Period.Microseconds(), k.Window.Limit)
	}

	res, err := hitScript.Run(ctx, s.client, names, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit redis: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 1+2*len(keys) {
		return nil, fmt.Errorf("ratelimit redis: unexpected reply %v", res)
	}
	recorded, _ := vals[0].(int64)

	out := make([]Decision, len(keys))
	for i, k := range keys {
		used, _ := vals[1+2*i].(int64)
		oldest, _ := vals[2+2*i].(int64)

		d := Decision{Limit: k.Window.Limit, Reset: k.Window.Period}
		if oldest >= 0 && nowUS > oldest {
			d.Reset = k.Window.Period - time.Duration(nowUS-oldest)*time.Microsecond
		}
		if int(used) >= k.Window.Limit {
			d.RetryAfter = d.Reset
		} else {
			d.Allowed = true
			d.Remaining = k.Window.Limit - int(used)
			if recorded == 1 {
				d.Remaining--
			}
		}
		out[i] = d
	}
	return out, nil
}
