package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 固定窗口：hash 里存 count / max / expires_ms，key 在窗口结束时过期。
// 和 Step 的语义一致，脚本在 Redis 里原子执行。
var fixedWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local expires = tonumber(redis.call("HGET", key, "expires_ms") or "0")
local count = tonumber(redis.call("HGET", key, "count") or "0")

if expires <= now then
  expires = now + window
  redis.call("HSET", key, "count", 1, "max", max, "expires_ms", expires)
  redis.call("PEXPIREAT", key, expires)
  return {1, 1, expires}
end

redis.call("HSET", key, "max", max)
if count >= max then
  return {0, count, expires}
end

count = redis.call("HINCRBY", key, "count", 1)
return {1, count, expires}
`)

type RedisStore struct {
	client redis.Scripter
	prefix string
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, prefix: "quota:"}
}

func (s *RedisStore) key(clientID, operation string) string {
	return s.prefix + operation + ":" + clientID
}

func (s *RedisStore) Take(ctx context.Context, clientID, operation string, max int, window time.Duration, now time.Time) (Decision, error) {
	res, err := fixedWindow.Run(ctx, s.client, []string{s.key(clientID, operation)},
		now.UnixMilli(), window.Milliseconds(), max).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis quota: %w", err)
	}

	arr, ok := res.([]any)
	if !ok || len(arr) < 3 {
		return Decision{}, fmt.Errorf("unexpected redis eval result: %T %v", res, res)
	}

	allowed := toInt64(arr[0])
	count := toInt64(arr[1])
	expiresMS := toInt64(arr[2])

	return Decision{
		Allowed: allowed == 1,
		Count:   int(count),
		Max:     max,
		ResetAt: time.UnixMilli(expiresMS).UTC(),
	}, nil
}

func toInt64(v any) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}
