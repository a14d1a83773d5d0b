package banning

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker 按 key 串行化，保证同一用户的封禁评估不会并发进行
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

const stripes = 64

// MemoryLocker 进程内分段互斥锁
type MemoryLocker struct {
	mus [stripes]sync.Mutex
}

// NewMemoryLocker 创建进程内锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

// Lock 实现 Locker
func (l *MemoryLocker) Lock(_ context.Context, key string) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l.mus[h.Sum32()%stripes]
	mu.Lock()
	return mu.Unlock, nil
}

// ErrLockTimeout 等待分布式锁超时
var ErrLockTimeout = errors.New("timed out waiting for lock")

// 只有持有者才能释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SETNX 的跨实例锁
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
}

// NewRedisLocker ttl 为锁的最长持有时间
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 20 * time.Millisecond, wait: 2 * ttl}
}

// Lock 实现 Locker
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	key = "lock:" + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
