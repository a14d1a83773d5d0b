// Package cache 评论数量的本地读穿缓存
package cache

import (
	"context"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"goim-comment/pkg/clock"
)

// Counter 数据源
type Counter interface {
	CountPublicComments(ctx context.Context, objectType string, objectID int64) (int64, error)
}

type item struct {
	count     int64
	expiresAt time.Time
}

// CountCache 对象公开评论数缓存，按 TTL 过期，可见性变化时主动失效
type CountCache struct {
	lru     *lru.Cache[string, item]
	source  Counter
	ttl     time.Duration
	clock   clock.Clock
	enabled bool
}

// NewCountCache ttl 为 0 时不缓存，每次直接查询
func NewCountCache(source Counter, size int, ttl time.Duration, clk clock.Clock) (*CountCache, error) {
	if size <= 0 {
		size = 1024
	}
	l, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &CountCache{lru: l, source: source, ttl: ttl, clock: clk, enabled: ttl > 0}, nil
}

func key(objectType string, objectID int64) string {
	return objectType + ":" + strconv.FormatInt(objectID, 10)
}

// Count 读取公开评论数
func (c *CountCache) Count(ctx context.Context, objectType string, objectID int64) (int64, error) {
	k := key(objectType, objectID)
	if c.enabled {
		if v, ok := c.lru.Get(k); ok {
			if c.clock.Now().Before(v.expiresAt) {
				return v.count, nil
			}
			c.lru.Remove(k)
		}
	}

	n, err := c.source.CountPublicComments(ctx, objectType, objectID)
	if err != nil {
		return 0, err
	}
	if c.enabled {
		c.lru.Add(k, item{count: n, expiresAt: c.clock.Now().Add(c.ttl)})
	}
	return n, nil
}

// Invalidate 对象下评论的可见性发生变化
func (c *CountCache) Invalidate(objectType string, objectID int64) {
	c.lru.Remove(key(objectType, objectID))
}

// Purge 清空缓存
func (c *CountCache) Purge() {
	c.lru.Purge()
}
