package dao

import (
	"context"
	"time"

	"goim-comment/apps/comment-service/model"
)

// CommentStore 评论数据访问接口
type CommentStore interface {
	CreateComment(ctx context.Context, comment *model.Comment) error
	// GetComment 不存在时返回包装了 model.ErrNotFound 的错误
	GetComment(ctx context.Context, commentID int64) (*model.Comment, error)
	// PatchComment 只写补丁里的列，不会覆盖并发写入的其他列
	PatchComment(ctx context.Context, commentID int64, patch *model.CommentPatch) error

	FindChildren(ctx context.Context, parentID int64) ([]*model.Comment, error)
	FindByThreadRoot(ctx context.Context, rootID int64) ([]*model.Comment, error)
	ListComments(ctx context.Context, params *model.ListCommentsParams) ([]*model.Comment, int64, error)
	ListPending(ctx context.Context, page, pageSize int32) ([]*model.Comment, int64, error)

	// IncrementFlagCount 原子加一并返回新值
	IncrementFlagCount(ctx context.Context, commentID int64) (int, error)
	// TransitionStatus 仅当当前状态属于 from 且未被人工审核过时才切换，返回是否切换成功。at 写入 updated_at
	TransitionStatus(ctx context.Context, commentID int64, from []string, to string, at time.Time) (bool, error)

	CountRejectedComments(ctx context.Context, userID int64) (int64, error)
	CountApprovedComments(ctx context.Context, userID int64) (int64, error)
	CountPublicComments(ctx context.Context, objectType string, objectID int64) (int64, error)

	// FindForCleanup 按 id 升序返回 id 大于 afterID 的匹配评论
	FindForCleanup(ctx context.Context, filter model.CleanupFilter, afterID int64, limit int) ([]*model.Comment, error)
	DeleteComments(ctx context.Context, commentIDs []int64) (int64, error)

	CreateRevision(ctx context.Context, rev *model.CommentRevision) error
	ListRevisions(ctx context.Context, commentID int64) ([]*model.CommentRevision, error)
}

// FlagStore 举报数据访问接口
type FlagStore interface {
	// CreateFlag 同一用户重复举报同一评论时返回 model.ErrAlreadyFlagged
	CreateFlag(ctx context.Context, flag *model.Flag) error
	// RecordFlag 在一个事务里写入举报并给评论计数加一，返回新计数。任一步失败都不留下举报记录
	RecordFlag(ctx context.Context, flag *model.Flag) (int, error)
	GetFlag(ctx context.Context, flagID string) (*model.Flag, error)
	SaveFlag(ctx context.Context, flag *model.Flag) error
	ListFlags(ctx context.Context, commentID int64) ([]*model.Flag, error)
	// CountSpamFlagsForUser 该用户评论收到的、未被驳回的垃圾举报数，包括已被清理的评论
	CountSpamFlagsForUser(ctx context.Context, userID int64) (int64, error)
}

// BanStore 封禁数据访问接口
type BanStore interface {
	CreateBan(ctx context.Context, ban *model.Ban) error
	SaveBan(ctx context.Context, ban *model.Ban) error
	// FindActiveBan 没有生效中的封禁时返回 nil, nil
	FindActiveBan(ctx context.Context, userID int64, now time.Time) (*model.Ban, error)
	ListBans(ctx context.Context, userID int64) ([]*model.Ban, error)
}

// ModerationLogStore 审核日志，只追加
type ModerationLogStore interface {
	AppendLog(ctx context.Context, log *model.ModerationLog) error
	ListLogs(ctx context.Context, subjectType, subjectID string) ([]*model.ModerationLog, error)
}

// Store 引擎需要的全部存储能力
type Store interface {
	CommentStore
	FlagStore
	BanStore
	ModerationLogStore
}
