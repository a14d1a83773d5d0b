package clock

import (
	"sync"
	"time"
)

// Clock 时间来源，便于测试注入
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real 返回系统时钟
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

// Fake 手动推进的时钟
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake 创建从 start 开始的时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now 当前时间
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance 向前推进 d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set 直接设置时间
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
