package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 单进程滑动日志
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]time.Time
}

// NewMemoryStore 创建内存后端
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]time.Time)}
}

// Take 实现 Store
func (m *MemoryStore) Take(_ context.Context, key string, rules []Rule, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := prune(m.logs[key], now.Add(-maxWindow(rules)))

	var retry time.Duration
	for _, r := range rules {
		cutoff := now.Add(-r.Window)
		// log 按时间升序，找到窗口内第一条
		start := sort.Search(len(log), func(i int) bool { return log[i].After(cutoff) })
		inWindow := log[start:]
		if len(inWindow) < r.Limit {
			continue
		}
		// 需要等到第 len-limit 条过期才会空出一个名额
		wait := inWindow[len(inWindow)-r.Limit].Add(r.Window).Sub(now)
		if wait > retry {
			retry = wait
		}
	}

	if retry > 0 {
		m.store(key, log)
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}

	m.store(key, append(log, now))
	return Decision{Allowed: true}, nil
}

func (m *MemoryStore) store(key string, log []time.Time) {
	if len(log) == 0 {
		delete(m.logs, key)
		return
	}
	m.logs[key] = log
}

// prune 丢弃不晚于 cutoff 的记录
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(log), func(i int) bool { return log[i].After(cutoff) })
	if i == 0 {
		return log
	}
	return append(log[:0:0], log[i:]...)
}
