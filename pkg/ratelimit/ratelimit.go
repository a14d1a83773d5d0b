package ratelimit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"goim-comment/pkg/clock"
)

// 动作名
const (
	ActionComment = "comment"
	ActionFlag    = "flag"
	ActionAPI     = "api"
)

// ActionAPIAnonymous 未登录请求的接口级限流
const ActionAPIAnonymous = "api_anon"

// ErrMissingActorKey 匿名请求没有提供稳定标识
var ErrMissingActorKey = errors.New("ratelimit: anonymous actor has no key")

// Rule 一个滑动窗口：Window 内最多 Limit 次
type Rule struct {
	Limit  int
	Window time.Duration
}

// Actor 被限流的主体。UserID 为0时使用 AnonymousKey
type Actor struct {
	UserID       int64
	AnonymousKey string
	Roles        []string
}

// Decision 限流结果
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Store 计数后端。Take 必须原子地检查全部规则，全部通过时才记录本次请求
type Store interface {
	Take(ctx context.Context, key string, rules []Rule, now time.Time) (Decision, error)
}

// Limiter 按 (actor, action) 维度限流
type Limiter struct {
	store  Store
	rules  map[string][]Rule
	exempt map[string]struct{}
	clock  clock.Clock
}

// Option 构造选项
type Option func(*Limiter)

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// New 创建限流器。rules 的 key 为动作名，同一动作的多条规则需同时满足
func New(store Store, rules map[string][]Rule, exemptRoles []string, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		rules:  make(map[string][]Rule, len(rules)),
		exempt: make(map[string]struct{}, len(exemptRoles)),
		clock:  clock.Real(),
	}
	for action, rs := range rules {
		l.rules[action] = append([]Rule(nil), rs...)
	}
	for _, role := range exemptRoles {
		l.exempt[role] = struct{}{}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check 检查并记录一次 action
func (l *Limiter) Check(ctx context.Context, actor Actor, action string) (Decision, error) {
	if l.IsExempt(actor.Roles) {
		return Decision{Allowed: true}, nil
	}
	rules := l.rules[action]
	if len(rules) == 0 {
		return Decision{Allowed: true}, nil
	}

	key, err := ActorKey(actor)
	if err != nil {
		return Decision{}, err
	}

	d, err := l.store.Take(ctx, action+":"+key, rules, l.clock.Now())
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit %s: %w", action, err)
	}
	return d, nil
}

// IsExempt 角色是否豁免
func (l *Limiter) IsExempt(roles []string) bool {
	for _, role := range roles {
		if _, ok := l.exempt[role]; ok {
			return true
		}
	}
	return false
}

// Rules 返回某动作的规则
func (l *Limiter) Rules(action string) []Rule {
	return l.rules[action]
}

// ActorKey 生成计数键。匿名标识做哈希，避免把会话token写进存储
func ActorKey(actor Actor) (string, error) {
	if actor.UserID > 0 {
		return "u:" + strconv.FormatInt(actor.UserID, 10), nil
	}
	if actor.AnonymousKey == "" {
		return "", ErrMissingActorKey
	}
	sum := blake2b.Sum256([]byte(actor.AnonymousKey))
	return "a:" + hex.EncodeToString(sum[:16]), nil
}

func maxWindow(rules []Rule) time.Duration {
	var w time.Duration
	for _, r := range rules {
		if r.Window > w {
			w = r.Window
		}
	}
	return w
}
