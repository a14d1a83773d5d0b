// Package notify 异步、尽力而为的事件分发。
// 队列满时丢弃并记录日志，投递失败不重试。
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"goim-comment/pkg/clock"
	"goim-comment/pkg/logger"
)

// Kind 事件类型，固定枚举
type Kind string

const (
	KindCommentCreated  Kind = "comment.created"
	KindCommentReply    Kind = "comment.reply"
	KindCommentApproved Kind = "comment.approved"
	KindCommentRejected Kind = "comment.rejected"
	KindModeratorAlert  Kind = "moderator.alert"
	KindUserBanned      Kind = "user.banned"
	KindUserUnbanned    Kind = "user.unbanned"
)

// Kinds 全部事件类型
var Kinds = []Kind{
	KindCommentCreated, KindCommentReply, KindCommentApproved, KindCommentRejected,
	KindModeratorAlert, KindUserBanned, KindUserUnbanned,
}

// Valid 是否已知事件类型
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ErrMalformedEvent 事件类型未知或负载无法编码
var ErrMalformedEvent = errors.New("malformed notification event")

// Event 分发给订阅者的事件，负载自包含
type Event struct {
	ID         string
	Kind       Kind
	Payload    *structpb.Struct
	OccurredAt time.Time
}

// Fields 负载转为 map
func (e Event) Fields() map[string]interface{} {
	return e.Payload.AsMap()
}

// Sink 事件接收方
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver 实现 Sink
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Emitter 业务层只依赖发送能力
type Emitter interface {
	Emit(kind Kind, payload map[string]interface{}) error
}

// Config 分发器配置
type Config struct {
	Workers   int
	QueueSize int
	// DeliverTimeout 单次投递超时
	DeliverTimeout time.Duration
}

// Dispatcher 有界队列 + 固定数量的 worker
type Dispatcher struct {
	queue   chan Event
	quit    chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
	once    sync.Once

	mu   sync.RWMutex
	subs map[Kind][]Sink
	all  []Sink

	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	timeout time.Duration
	logger  logger.Logger
	clock   clock.Clock
}

// NewDispatcher 创建并启动分发器
func NewDispatcher(cfg Config, log logger.Logger, clk clock.Clock) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 10 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	d := &Dispatcher{
		queue:   make(chan Event, cfg.QueueSize),
		quit:    make(chan struct{}),
		subs:    make(map[Kind][]Sink),
		timeout: cfg.DeliverTimeout,
		logger:  log,
		clock:   clk,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Subscribe 订阅某类事件
func (d *Dispatcher) Subscribe(kind Kind, sink Sink) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, kind)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[kind] = append(d.subs[kind], sink)
	return nil
}

// SubscribeAll 订阅全部事件
func (d *Dispatcher) SubscribeAll(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, sink)
}

// Emit 入队后立即返回；只有事件类型未知或负载无法编码时返回错误
func (d *Dispatcher) Emit(kind Kind, payload map[string]interface{}) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, kind)
	}
	st, err := structpb.NewStruct(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev := Event{ID: uuid.NewString(), Kind: kind, Payload: st, OccurredAt: d.clock.Now()}

	if d.stopped.Load() {
		d.drop(ev, "dispatcher stopped")
		return nil
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "queue full")
	}
	return nil
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.dropped.Add(1)
	d.logger.Warn(context.Background(), "Dropping notification event",
		logger.F("kind", string(ev.Kind)), logger.F("event_id", ev.ID), logger.F("reason", reason))
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case ev := <-d.queue:
			d.dispatch(ev)
		}
	}
}

func (d *Dispatcher) sinksFor(kind Kind) []Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sinks := make([]Sink, 0, len(d.subs[kind])+len(d.all))
	sinks = append(sinks, d.subs[kind]...)
	return append(sinks, d.all...)
}

func (d *Dispatcher) dispatch(ev Event) {
	for _, sink := range d.sinksFor(ev.Kind) {
		if err := d.deliver(sink, ev); err != nil {
			d.failed.Add(1)
			d.logger.Error(context.Background(), "Notification delivery failed",
				logger.F("kind", string(ev.Kind)), logger.F("event_id", ev.ID), logger.F("error", err.Error()))
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) deliver(sink Sink, ev Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Deliver(ctx, ev)
}

// Stop 停止 worker；队列中尚未投递的事件会被丢弃
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.once.Do(func() {
		d.stopped.Store(true)
		close(d.quit)
	})
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 分发统计
type Stats struct {
	Dropped   int64 `json:"dropped"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

// Stats 当前统计
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dropped:   d.dropped.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Queued:    len(d.queue),
	}
}
