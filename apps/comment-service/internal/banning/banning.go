// Package banning 用户封禁的生命周期与自动封禁规则
package banning

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/clock"
)

// Trigger 触发封禁评估的事件
type Trigger int

const (
	// TriggerRejection 用户的评论被审核员拒绝
	TriggerRejection Trigger = iota + 1
	// TriggerSpamFlag 用户的评论收到垃圾举报
	TriggerSpamFlag
)

func (t Trigger) String() string {
	switch t {
	case TriggerRejection:
		return "rejection"
	case TriggerSpamFlag:
		return "spam_flag"
	}
	return "unknown"
}

// Policy 自动封禁规则，阈值为 nil 关闭
type Policy struct {
	AfterRejections *int
	AfterSpamFlags  *int
	// DefaultDuration 0 表示永久
	DefaultDuration time.Duration
}

// PolicyOf 由引擎配置生成封禁规则
func PolicyOf(s *model.Settings) Policy {
	return Policy{
		AfterRejections: s.AutoBanAfterRejections,
		AfterSpamFlags:  s.AutoBanAfterSpamFlags,
		DefaultDuration: s.DefaultBanDuration,
	}
}

// Store 封禁引擎需要的存储能力
type Store interface {
	CountRejectedComments(ctx context.Context, userID int64) (int64, error)
	CountSpamFlagsForUser(ctx context.Context, userID int64) (int64, error)
	CreateBan(ctx context.Context, ban *model.Ban) error
	SaveBan(ctx context.Context, ban *model.Ban) error
	FindActiveBan(ctx context.Context, userID int64, now time.Time) (*model.Ban, error)
}

// IDGenerator ID生成器
type IDGenerator interface {
	Generate() int64
}

// Engine 封禁引擎
type Engine struct {
	store  Store
	policy Policy
	locker Locker
	ids    IDGenerator
	clock  clock.Clock
}

// NewEngine 创建封禁引擎
func NewEngine(store Store, policy Policy, locker Locker, ids IDGenerator, clk clock.Clock) *Engine {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{store: store, policy: policy, locker: locker, ids: ids, clock: clk}
}

func lockKey(userID int64) string {
	return "ban:" + strconv.FormatInt(userID, 10)
}

// Evaluate 在评论被拒绝或收到垃圾举报后调用，满足阈值且当前未被封禁时签发系统封禁。
// 未签发时返回 nil, nil
func (e *Engine) Evaluate(ctx context.Context, userID int64, trigger Trigger) (*model.Ban, error) {
	if userID == 0 {
		return nil, nil
	}

	var (
		threshold *int
		count     func(context.Context, int64) (int64, error)
		noun      string
	)
	switch trigger {
	case TriggerRejection:
		threshold, count, noun = e.policy.AfterRejections, e.store.CountRejectedComments, "rejected comments"
	case TriggerSpamFlag:
		threshold, count, noun = e.policy.AfterSpamFlags, e.store.CountSpamFlagsForUser, "spam flags"
	default:
		return nil, fmt.Errorf("unknown ban trigger %d", trigger)
	}
	if threshold == nil {
		return nil, nil
	}

	unlock, err := e.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	defer unlock()

	n, err := count(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n < int64(*threshold) {
		return nil, nil
	}

	now := e.clock.Now()
	active, err := e.store.FindActiveBan(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, nil
	}

	ban := &model.Ban{
		ID:        e.ids.Generate(),
		UserID:    userID,
		BannedBy:  model.SystemActorID,
		Reason:    fmt.Sprintf("auto-ban: %d %s", n, noun),
		StartsAt:  now,
		ExpiresAt: e.expiry(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateBan(ctx, ban); err != nil {
		return nil, err
	}
	return ban, nil
}

func (e *Engine) expiry(now time.Time) *time.Time {
	if e.policy.DefaultDuration <= 0 {
		return nil
	}
	t := now.Add(e.policy.DefaultDuration)
	return &t
}

// Ban 人工封禁。已有生效封禁时原地更新理由、期限与操作者，不产生重复记录。
// expiresAt 为 nil 表示永久
func (e *Engine) Ban(ctx context.Context, userID int64, reason string, expiresAt *time.Time, actorID int64) (*model.Ban, error) {
	if userID == 0 {
		return nil, model.NewValidationError("user_id", "anonymous users cannot be banned")
	}
	now := e.clock.Now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, model.NewValidationError("expires_at", "must be in the future")
	}

	unlock, err := e.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	defer unlock()

	active, err := e.store.FindActiveBan(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if active != nil {
		active.Reason = reason
		active.BannedBy = actorID
		active.ExpiresAt = expiresAt
		active.UpdatedAt = now
		if err := e.store.SaveBan(ctx, active); err != nil {
			return nil, err
		}
		return active, nil
	}

	ban := &model.Ban{
		ID:        e.ids.Generate(),
		UserID:    userID,
		BannedBy:  actorID,
		Reason:    reason,
		StartsAt:  now,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateBan(ctx, ban); err != nil {
		return nil, err
	}
	return ban, nil
}

// Unban 解除封禁，幂等：没有生效封禁时返回 nil, nil
func (e *Engine) Unban(ctx context.Context, userID int64, actorID int64) (*model.Ban, error) {
	unlock, err := e.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	defer unlock()

	now := e.clock.Now()
	active, err := e.store.FindActiveBan(ctx, userID, now)
	if err != nil || active == nil {
		return nil, err
	}
	active.LiftedAt = &now
	active.LiftedBy = actorID
	active.UpdatedAt = now
	if err := e.store.SaveBan(ctx, active); err != nil {
		return nil, err
	}
	return active, nil
}

// Check 用户被封禁时返回 *model.UserBannedError
func (e *Engine) Check(ctx context.Context, userID int64) error {
	ban, err := e.ActiveBan(ctx, userID)
	if err != nil {
		return err
	}
	if ban != nil {
		return model.NewUserBannedError(ban)
	}
	return nil
}

// ActiveBan 当前生效的封禁，没有时返回 nil
func (e *Engine) ActiveBan(ctx context.Context, userID int64) (*model.Ban, error) {
	if userID == 0 {
		return nil, nil
	}
	return e.store.FindActiveBan(ctx, userID, e.clock.Now())
}
