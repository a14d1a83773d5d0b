package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// slidingWindowScript 对每个窗口一个ZSET：先全部检查，全部通过后再写入
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]
local retry = 0
for i, key in ipairs(KEYS) do
	local limit = tonumber(ARGV[1 + i * 2])
	local window = tonumber(ARGV[2 + i * 2])
	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
	local count = redis.call('ZCARD', key)
	if count >= limit then
		local idx = count - limit
		local entry = redis.call('ZRANGE', key, idx, idx, 'WITHSCORES')
		local wait = tonumber(entry[2]) + window - now
		if wait > retry then
			retry = wait
		end
	end
end
if retry > 0 then
	return retry
end
for i, key in ipairs(KEYS) do
	local window = tonumber(ARGV[2 + i * 2])
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
end
return 0
`)

// RedisStore 多实例共享的滑动日志，精度为毫秒
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore 创建Redis后端
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

// Take 实现 Store
func (s *RedisStore) Take(ctx context.Context, key string, rules []Rule, now time.Time) (Decision, error) {
	keys := make([]string, 0, len(rules))
	args := make([]interface{}, 0, 2+2*len(rules))
	args = append(args, now.UnixMilli(), uuid.NewString())
	for _, r := range rules {
		window := r.Window.Milliseconds()
		keys = append(keys, s.prefix+key+":"+strconv.FormatInt(window, 10))
		args = append(args, r.Limit, window)
	}

	retryMs, err := slidingWindowScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return Decision{}, err
	}
	if retryMs > 0 {
		return Decision{Allowed: false, RetryAfter: time.Duration(retryMs) * time.Millisecond}, nil
	}
	return Decision{Allowed: true}, nil
}
