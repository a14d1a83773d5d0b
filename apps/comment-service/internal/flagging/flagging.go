// Package flagging 举报计数与阈值触发的自动隐藏、自动删除
package flagging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/clock"
)

// Action 举报触发的动作
type Action string

const (
	ActionNotifyModerators Action = "notify_moderators"
	ActionAutoHide         Action = "auto_hide"
	ActionAutoDelete       Action = "auto_delete"
)

// Thresholds 举报阈值，nil 关闭对应规则
type Thresholds struct {
	Notify     *int
	AutoHide   *int
	AutoDelete *int
}

// Outcome 一次举报的结果
type Outcome struct {
	NewFlagCount int
	Actions      []Action
}

// Has 是否触发了某个动作
func (o Outcome) Has(a Action) bool {
	for _, x := range o.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// Store 聚合器需要的存储能力
type Store interface {
	// RecordFlag 原子地写入举报并给计数加一
	RecordFlag(ctx context.Context, flag *model.Flag) (int, error)
	GetFlag(ctx context.Context, flagID string) (*model.Flag, error)
	SaveFlag(ctx context.Context, flag *model.Flag) error
	TransitionStatus(ctx context.Context, commentID int64, from []string, to string, at time.Time) (bool, error)
}

// Aggregator 举报聚合器
type Aggregator struct {
	store      Store
	thresholds Thresholds
	clock      clock.Clock
}

// NewAggregator 创建举报聚合器
func NewAggregator(store Store, thresholds Thresholds, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Aggregator{store: store, thresholds: thresholds, clock: clk}
}

var deletableStatuses = []string{model.CommentStatusPublic, model.CommentStatusPending, model.CommentStatusHidden}

// RecordFlag 记录一条举报并按顺序评估阈值规则。
// 同一用户重复举报返回 model.ErrAlreadyFlagged，计数不变。
// 状态切换使用条件更新，并发举报时只有切换成功的一方报告动作。
func (a *Aggregator) RecordFlag(ctx context.Context, comment *model.Comment, flag *model.Flag) (Outcome, error) {
	if comment == nil {
		return Outcome{}, fmt.Errorf("record flag on nil comment: %w", model.ErrNotFound)
	}
	if !model.ValidFlagCategory(flag.Category) {
		return Outcome{}, model.NewValidationError("category", "must be one of spam, inappropriate, harassment, other")
	}

	now := a.clock.Now()
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	flag.CommentID = comment.ID
	flag.CommentAuthorID = comment.UserID
	flag.ReviewState = model.FlagReviewUnreviewed
	flag.CreatedAt = now
	flag.UpdatedAt = now

	count, err := a.store.RecordFlag(ctx, flag)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{NewFlagCount: count}

	if t := a.thresholds.Notify; t != nil && count == *t {
		out.Actions = append(out.Actions, ActionNotifyModerators)
	}

	// 自动删除覆盖自动隐藏，同一次举报不会同时报告两者
	if t := a.thresholds.AutoDelete; t != nil && count >= *t {
		ok, err := a.store.TransitionStatus(ctx, comment.ID, deletableStatuses, model.CommentStatusRemoved, now)
		if err != nil {
			return out, fmt.Errorf("auto delete comment %d: %w", comment.ID, err)
		}
		if ok {
			out.Actions = append(out.Actions, ActionAutoDelete)
		}
		return out, nil
	}

	if t := a.thresholds.AutoHide; t != nil && count >= *t {
		ok, err := a.store.TransitionStatus(ctx, comment.ID, []string{model.CommentStatusPublic}, model.CommentStatusHidden, now)
		if err != nil {
			return out, fmt.Errorf("auto hide comment %d: %w", comment.ID, err)
		}
		if ok {
			out.Actions = append(out.Actions, ActionAutoHide)
		}
	}
	return out, nil
}

// ReviewFlag 审核员处理举报：dismissed 或 actioned。计数不回退
func (a *Aggregator) ReviewFlag(ctx context.Context, flagID string, reviewerID int64, state string) (*model.Flag, error) {
	if state != model.FlagReviewDismissed && state != model.FlagReviewActioned {
		return nil, model.NewValidationError("state", "must be dismissed or actioned")
	}
	flag, err := a.store.GetFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	now := a.clock.Now()
	flag.ReviewState = state
	flag.ReviewerID = reviewerID
	flag.ReviewedAt = &now
	flag.UpdatedAt = now
	if err := a.store.SaveFlag(ctx, flag); err != nil {
		return nil, err
	}
	return flag, nil
}

// ThresholdsOf 由引擎配置生成阈值
func ThresholdsOf(s *model.Settings) Thresholds {
	return Thresholds{
		Notify:     s.FlagNotifyThreshold,
		AutoHide:   s.AutoHideThreshold,
		AutoDelete: s.AutoDeleteThreshold,
	}
}
