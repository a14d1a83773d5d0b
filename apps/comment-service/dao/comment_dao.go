package dao

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/database"
)

// commentDAO PostgreSQL实现
type commentDAO struct {
	db *database.PostgreSQL
}

// NewCommentDAO 创建PostgreSQL存储
func NewCommentDAO(db *database.PostgreSQL) Store {
	return &commentDAO{db: db}
}

// Models 需要迁移的表
func Models() []interface{} {
	return []interface{}{
		&model.Comment{},
		&model.Flag{},
		&model.Ban{},
		&model.ModerationLog{},
		&model.CommentRevision{},
	}
}

func notFound(kind string, id interface{}, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", kind, id, model.ErrNotFound)
	}
	return err
}

// CreateComment 创建评论
func (d *commentDAO) CreateComment(ctx context.Context, comment *model.Comment) error {
	return d.db.WithContext(ctx).Create(comment).Error
}

// GetComment 获取评论
func (d *commentDAO) GetComment(ctx context.Context, commentID int64) (*model.Comment, error) {
	var comment model.Comment
	if err := d.db.WithContext(ctx).Where("id = ?", commentID).First(&comment).Error; err != nil {
		return nil, notFound("comment", commentID, err)
	}
	return &comment, nil
}

// PatchComment 用 map 更新，gorm 不会再用自身时钟覆盖 updated_at
func (d *commentDAO) PatchComment(ctx context.Context, commentID int64, patch *model.CommentPatch) error {
	res := d.db.WithContext(ctx).Model(&model.Comment{}).
		Where("id = ?", commentID).Updates(patch.Columns())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("comment %d: %w", commentID, model.ErrNotFound)
	}
	return nil
}

// FindChildren 直接回复
func (d *commentDAO) FindChildren(ctx context.Context, parentID int64) ([]*model.Comment, error) {
	var comments []*model.Comment
	err := d.db.WithContext(ctx).Where("parent_id = ?", parentID).
		Order("created_at ASC, id ASC").Find(&comments).Error
	return comments, err
}

// FindByThreadRoot 整个线程，按 (depth, created_at, id) 排序
func (d *commentDAO) FindByThreadRoot(ctx context.Context, rootID int64) ([]*model.Comment, error) {
	var comments []*model.Comment
	err := d.db.WithContext(ctx).Where("root_id = ?", rootID).
		Order("depth ASC, created_at ASC, id ASC").Find(&comments).Error
	return comments, err
}

// ListComments 对象下的评论
func (d *commentDAO) ListComments(ctx context.Context, params *model.ListCommentsParams) ([]*model.Comment, int64, error) {
	params.Normalize()
	query := d.db.WithContext(ctx).Model(&model.Comment{}).
		Where("object_type = ? AND object_id = ?", params.ObjectType, params.ObjectID)
	if !params.IncludeHidden {
		query = query.Where("status = ? AND is_removed = ?", model.CommentStatusPublic, false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, desc := model.SortOrder(params.Sort)
	var comments []*model.Comment
	offset := int((params.Page - 1) * params.PageSize)
	err := query.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: column}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: desc},
	}}).Offset(offset).Limit(int(params.PageSize)).Find(&comments).Error
	return comments, total, err
}

// ListPending 待审核评论
func (d *commentDAO) ListPending(ctx context.Context, page, pageSize int32) ([]*model.Comment, int64, error) {
	p := &model.ListCommentsParams{Page: page, PageSize: pageSize}
	p.Normalize()
	query := d.db.WithContext(ctx).Model(&model.Comment{}).
		Where("status = ? AND is_removed = ?", model.CommentStatusPending, false)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var comments []*model.Comment
	err := query.Order("created_at ASC, id ASC").
		Offset(int((p.Page - 1) * p.PageSize)).Limit(int(p.PageSize)).Find(&comments).Error
	return comments, total, err
}

// IncrementFlagCount UPDATE ... RETURNING，并发下由数据库行锁保证原子性
func (d *commentDAO) IncrementFlagCount(ctx context.Context, commentID int64) (int, error) {
	return incrementFlagCount(d.db.WithContext(ctx), commentID)
}

func incrementFlagCount(tx *gorm.DB, commentID int64) (int, error) {
	var comment model.Comment
	res := tx.Model(&comment).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "flag_count"}}}).
		Where("id = ?", commentID).
		UpdateColumn("flag_count", gorm.Expr("flag_count + ?", 1))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("comment %d: %w", commentID, model.ErrNotFound)
	}
	return comment.FlagCount, nil
}

// TransitionStatus 条件更新
func (d *commentDAO) TransitionStatus(ctx context.Context, commentID int64, from []string, to string, at time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&model.Comment{}).
		Where("id = ? AND status IN ? AND moderated = ?", commentID, from, false).
		Updates(map[string]interface{}{
			"status":     to,
			"is_removed": to == model.CommentStatusRemoved,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountRejectedComments 被拒绝的评论数
func (d *commentDAO) CountRejectedComments(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&model.Comment{}).
		Where("user_id = ? AND is_rejected = ?", userID, true).Count(&n).Error
	return n, err
}

// CountApprovedComments 已公开的评论数
func (d *commentDAO) CountApprovedComments(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&model.Comment{}).
		Where("user_id = ? AND status = ? AND is_removed = ?", userID, model.CommentStatusPublic, false).
		Count(&n).Error
	return n, err
}

// CountPublicComments 对象下公开评论数
func (d *commentDAO) CountPublicComments(ctx context.Context, objectType string, objectID int64) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&model.Comment{}).
		Where("object_type = ? AND object_id = ? AND status = ? AND is_removed = ?",
			objectType, objectID, model.CommentStatusPublic, false).
		Count(&n).Error
	return n, err
}

// FindForCleanup 待清理的评论，filter 中各条件以 OR 组合
func (d *commentDAO) FindForCleanup(ctx context.Context, filter model.CleanupFilter, afterID int64, limit int) ([]*model.Comment, error) {
	if filter.Empty() {
		return nil, nil
	}
	db := d.db.WithContext(ctx)
	var cond *gorm.DB
	or := func(query interface{}, args ...interface{}) {
		if cond == nil {
			cond = db.Session(&gorm.Session{NewDB: true}).Where(query, args...)
			return
		}
		cond = cond.Or(query, args...)
	}
	if !filter.RemovedBefore.IsZero() {
		or("is_removed = ? AND updated_at < ?", true, filter.RemovedBefore)
	}
	if filter.NonPublic {
		or("(status <> ? OR is_removed = ?)", model.CommentStatusPublic, true)
	}
	if filter.Spam {
		spam := db.Session(&gorm.Session{NewDB: true}).Model(&model.Flag{}).
			Select("comment_id").Where("category = ?", model.FlagCategorySpam)
		or("id IN (?)", spam)
	}
	if filter.Flagged {
		or("flag_count > ?", 0)
	}

	var comments []*model.Comment
	query := db.Where("id > ?", afterID).Where(cond).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&comments).Error
	return comments, err
}

// DeleteComments 物理删除评论及其编辑历史，举报记录保留
func (d *commentDAO) DeleteComments(ctx context.Context, commentIDs []int64) (int64, error) {
	if len(commentIDs) == 0 {
		return 0, nil
	}
	var deleted int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("comment_id IN ?", commentIDs).Delete(&model.CommentRevision{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", commentIDs).Delete(&model.Comment{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

// CreateRevision 记录编辑历史
func (d *commentDAO) CreateRevision(ctx context.Context, rev *model.CommentRevision) error {
	return d.db.WithContext(ctx).Create(rev).Error
}

// ListRevisions 编辑历史
func (d *commentDAO) ListRevisions(ctx context.Context, commentID int64) ([]*model.CommentRevision, error) {
	var revs []*model.CommentRevision
	err := d.db.WithContext(ctx).Where("comment_id = ?", commentID).Order("created_at ASC").Find(&revs).Error
	return revs, err
}

// CreateFlag 依赖 (comment_id, user_id) 唯一索引拒绝重复举报
func (d *commentDAO) CreateFlag(ctx context.Context, flag *model.Flag) error {
	return createFlag(d.db.WithContext(ctx), flag)
}

func createFlag(tx *gorm.DB, flag *model.Flag) error {
	err := tx.Create(flag).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.ErrAlreadyFlagged
	}
	return err
}

// RecordFlag 写举报和加计数在同一事务
func (d *commentDAO) RecordFlag(ctx context.Context, flag *model.Flag) (int, error) {
	var count int
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createFlag(tx, flag); err != nil {
			return err
		}
		n, err := incrementFlagCount(tx, flag.CommentID)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	return count, err
}

// GetFlag 获取举报
func (d *commentDAO) GetFlag(ctx context.Context, flagID string) (*model.Flag, error) {
	var flag model.Flag
	if err := d.db.WithContext(ctx).Where("id = ?", flagID).First(&flag).Error; err != nil {
		return nil, notFound("flag", flagID, err)
	}
	return &flag, nil
}

// SaveFlag 保存举报
func (d *commentDAO) SaveFlag(ctx context.Context, flag *model.Flag) error {
	return d.db.WithContext(ctx).Save(flag).Error
}

// ListFlags 评论的全部举报
func (d *commentDAO) ListFlags(ctx context.Context, commentID int64) ([]*model.Flag, error) {
	var flags []*model.Flag
	err := d.db.WithContext(ctx).Where("comment_id = ?", commentID).Order("created_at ASC, id ASC").Find(&flags).Error
	return flags, err
}

// CountSpamFlagsForUser 用户收到的垃圾举报
func (d *commentDAO) CountSpamFlagsForUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&model.Flag{}).
		Where("comment_author_id = ? AND category = ? AND review_state <> ?",
			userID, model.FlagCategorySpam, model.FlagReviewDismissed).
		Count(&n).Error
	return n, err
}

// CreateBan 创建封禁
func (d *commentDAO) CreateBan(ctx context.Context, ban *model.Ban) error {
	return d.db.WithContext(ctx).Create(ban).Error
}

// SaveBan 保存封禁
func (d *commentDAO) SaveBan(ctx context.Context, ban *model.Ban) error {
	return d.db.WithContext(ctx).Save(ban).Error
}

// FindActiveBan 生效中的封禁
func (d *commentDAO) FindActiveBan(ctx context.Context, userID int64, now time.Time) (*model.Ban, error) {
	var ban model.Ban
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND lifted_at IS NULL AND (expires_at IS NULL OR expires_at > ?)", userID, now).
		Order("starts_at DESC").First(&ban).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ban, nil
}

// ListBans 封禁历史
func (d *commentDAO) ListBans(ctx context.Context, userID int64) ([]*model.Ban, error) {
	var bans []*model.Ban
	err := d.db.WithContext(ctx).Where("user_id = ?", userID).Order("starts_at ASC").Find(&bans).Error
	return bans, err
}

// AppendLog 追加审核日志
func (d *commentDAO) AppendLog(ctx context.Context, log *model.ModerationLog) error {
	return d.db.WithContext(ctx).Create(log).Error
}

// ListLogs 审核日志
func (d *commentDAO) ListLogs(ctx context.Context, subjectType, subjectID string) ([]*model.ModerationLog, error) {
	var logs []*model.ModerationLog
	err := d.db.WithContext(ctx).Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Order("created_at ASC, id ASC").Find(&logs).Error
	return logs, err
}

// SubjectID 日志对象ID的统一格式
func SubjectID(id int64) string {
	return strconv.FormatInt(id, 10)
}
