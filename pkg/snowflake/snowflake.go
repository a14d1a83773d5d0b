package snowflake

import (
	"fmt"
	"sync"
	"time"

	"goim-comment/pkg/clock"
)

// Snowflake ID生成器
// 64位ID结构：1位符号位(0) + 41位时间戳 + 10位机器ID + 12位序列号
type Snowflake struct {
	mu        sync.Mutex
	clock     clock.Clock
	epoch     int64 // 起始时间戳 (毫秒)
	machineID int64
	sequence  int64
	lastTime  int64
}

const (
	machineBits  = 10
	sequenceBits = 12

	maxMachineID = (1 << machineBits) - 1  // 1023
	maxSequence  = (1 << sequenceBits) - 1 // 4095

	machineShift   = sequenceBits
	timestampShift = sequenceBits + machineBits

	// 2024-01-01 00:00:00 UTC
	defaultEpoch = 1704067200000
)

// Option 生成器选项
type Option func(*Snowflake)

// WithClock 指定时间来源
func WithClock(clk clock.Clock) Option {
	return func(s *Snowflake) { s.clock = clk }
}

// NewSnowflake 创建Snowflake实例
func NewSnowflake(machineID int64, opts ...Option) (*Snowflake, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("machine id must be within 0-%d, got %d", maxMachineID, machineID)
	}
	s := &Snowflake{
		clock:     clock.Real(),
		epoch:     defaultEpoch,
		machineID: machineID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate 生成下一个ID，并发安全且单调递增
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UnixMilli()
	// 时钟回拨时沿用上次的毫秒，序列号继续递增
	if now < s.lastTime {
		now = s.lastTime
	}

	if now == s.lastTime {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 当前毫秒用完，借用下一毫秒
			now = s.lastTime + 1
		}
	} else {
		s.sequence = 0
	}
	s.lastTime = now

	return ((now - s.epoch) << timestampShift) |
		(s.machineID << machineShift) |
		s.sequence
}

// ParseID 解析Snowflake ID
func (s *Snowflake) ParseID(id int64) (timestamp int64, machineID int64, sequence int64) {
	timestamp = (id >> timestampShift) + s.epoch
	machineID = (id >> machineShift) & maxMachineID
	sequence = id & maxSequence
	return
}

// GetInfo 获取ID信息
func (s *Snowflake) GetInfo(id int64) string {
	timestamp, machineID, sequence := s.ParseID(id)
	t := time.UnixMilli(timestamp).UTC()
	return fmt.Sprintf("id=%d time=%s machine=%d seq=%d",
		id, t.Format("2006-01-02 15:04:05.000"), machineID, sequence)
}
