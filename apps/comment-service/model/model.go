package model

import (
	"time"
)

// Comment 评论模型
type Comment struct {
	ID         int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ObjectID   int64  `json:"object_id" gorm:"not null;index:idx_object"`                    // 被评论的对象ID
	ObjectType string `json:"object_type" gorm:"type:varchar(32);not null;index:idx_object"` // 被评论的对象类型
	UserID     int64  `json:"user_id" gorm:"not null;default:0;index"`                       // 评论用户ID，0为匿名
	UserName   string `json:"user_name" gorm:"type:varchar(100)"`                            // 显示名
	UserEmail  string `json:"user_email,omitempty" gorm:"type:varchar(254)"`                 // 匿名用户邮箱
	Content    string `json:"content" gorm:"type:text;not null"`
	Format     string `json:"format" gorm:"type:varchar(16);not null;default:'plain'"`
	ParentID   int64  `json:"parent_id" gorm:"not null;default:0;index"` // 0表示顶级评论
	RootID     int64  `json:"root_id" gorm:"not null;index:idx_thread"`  // 顶级评论的RootID等于自身ID
	Depth      int    `json:"depth" gorm:"not null;default:0;index:idx_thread"`
	Status     string `json:"status" gorm:"type:varchar(16);not null;index"`
	IsRemoved  bool   `json:"is_removed" gorm:"not null;default:false;index"`
	IsRejected bool   `json:"is_rejected" gorm:"not null;default:false"`
	// Moderated 审核员处理过后不再参与自动隐藏/删除
	Moderated bool       `json:"moderated" gorm:"not null;default:false"`
	FlagCount int        `json:"flag_count" gorm:"not null;default:0"`
	IsEdited  bool       `json:"is_edited" gorm:"not null;default:false"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IPAddress string     `json:"-" gorm:"type:varchar(45)"`
	UserAgent string     `json:"-" gorm:"type:text"`
	CreatedAt time.Time  `json:"created_at" gorm:"index:idx_thread"`
	UpdatedAt time.Time  `json:"updated_at"`

	Replies []*Comment `json:"replies,omitempty" gorm:"-"`
}

// TableName 指定表名
func (Comment) TableName() string {
	return "comments"
}

// IsTopLevel 是否为顶级评论
func (c *Comment) IsTopLevel() bool {
	return c.ParentID == 0
}

// IsPublic 是否公开可见
func (c *Comment) IsPublic() bool {
	return c.Status == CommentStatusPublic && !c.IsRemoved
}

// IsAnonymous 是否匿名评论
func (c *Comment) IsAnonymous() bool {
	return c.UserID == 0
}

// Flag 举报记录，(comment_id, user_id) 唯一
type Flag struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CommentID   int64      `json:"comment_id" gorm:"not null;uniqueIndex:idx_flag_comment_user"`
	UserID      int64      `json:"user_id" gorm:"not null;uniqueIndex:idx_flag_comment_user"`
	Category    string     `json:"category" gorm:"type:varchar(20);not null;index"`
	Reason      string     `json:"reason" gorm:"type:text"`
	ReviewState string     `json:"review_state" gorm:"type:varchar(20);not null;default:'unreviewed';index"`
	ReviewerID  int64      `json:"reviewer_id" gorm:"not null;default:0"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// CommentAuthorID 被举报评论的作者，评论被清理后仍用于垃圾举报计数
	CommentAuthorID int64 `json:"comment_author_id" gorm:"not null;default:0;index"`
}

// TableName 指定表名
func (Flag) TableName() string {
	return "comment_flags"
}

// Ban 用户封禁
type Ban struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID    int64      `json:"user_id" gorm:"not null;index"`
	BannedBy  int64      `json:"banned_by" gorm:"not null;default:0"` // 0为系统自动封禁
	Reason    string     `json:"reason" gorm:"type:text"`
	StartsAt  time.Time  `json:"starts_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil 为永久
	LiftedAt  *time.Time `json:"lifted_at,omitempty"`
	LiftedBy  int64      `json:"lifted_by" gorm:"not null;default:0"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (Ban) TableName() string {
	return "user_bans"
}

// Active 在 now 时刻是否生效
func (b *Ban) Active(now time.Time) bool {
	if b == nil || b.LiftedAt != nil {
		return false
	}
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

// IsPermanent 是否永久封禁
func (b *Ban) IsPermanent() bool {
	return b.ExpiresAt == nil
}

// ModerationLog 审核日志，只追加
type ModerationLog struct {
	ID          int64     `json:"id" bson:"_id" gorm:"primaryKey;autoIncrement:false"`
	Action      string    `json:"action" bson:"action" gorm:"type:varchar(32);not null;index"`
	SubjectType string    `json:"subject_type" bson:"subject_type" gorm:"type:varchar(16);not null;index:idx_log_subject"`
	SubjectID   string    `json:"subject_id" bson:"subject_id" gorm:"type:varchar(40);not null;index:idx_log_subject"`
	ActorID     int64     `json:"actor_id" bson:"actor_id" gorm:"not null;default:0"`
	OldStatus   string    `json:"old_status,omitempty" bson:"old_status,omitempty" gorm:"type:varchar(16)"`
	NewStatus   string    `json:"new_status,omitempty" bson:"new_status,omitempty" gorm:"type:varchar(16)"`
	Detail      string    `json:"detail" bson:"detail" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// TableName 指定表名
func (ModerationLog) TableName() string {
	return "comment_moderation_logs"
}

// CommentRevision 评论编辑历史
type CommentRevision struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CommentID int64     `json:"comment_id" gorm:"not null;index"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	EditedBy  int64     `json:"edited_by" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (CommentRevision) TableName() string {
	return "comment_revisions"
}

// Actor 发起请求的身份
type Actor struct {
	UserID int64
	// AnonymousKey 匿名用户的稳定标识（会话或来源token）
	AnonymousKey string
	Roles        []string
}

// IsAnonymous 是否匿名
func (a Actor) IsAnonymous() bool {
	return a.UserID == 0
}

// HasAnyRole 是否拥有任一角色
func (a Actor) HasAnyRole(roles []string) bool {
	for _, have := range a.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// 查询参数结构体

// CreateCommentParams 创建评论参数
type CreateCommentParams struct {
	ObjectID   int64  `json:"object_id"`
	ObjectType string `json:"object_type"`
	ParentID   int64  `json:"parent_id"`
	Content    string `json:"content"`
	Format     string `json:"format"`
	UserName   string `json:"user_name"`
	UserEmail  string `json:"user_email"`
	IPAddress  string `json:"ip_address"`
	UserAgent  string `json:"user_agent"`
}

// UpdateCommentParams 编辑评论参数
type UpdateCommentParams struct {
	CommentID int64  `json:"comment_id"`
	Content   string `json:"content"`
}

// ListCommentsParams 评论列表参数
type ListCommentsParams struct {
	ObjectID   int64  `json:"object_id"`
	ObjectType string `json:"object_type"`
	// IncludeHidden 仅审核员可用
	IncludeHidden bool `json:"include_hidden"`
	// Sort 取值见 Sorts，为空时按 created_at 升序
	Sort     string `json:"sort"`
	Page     int32  `json:"page"`
	PageSize int32  `json:"page_size"`
}

// Normalize 修正分页参数
func (p *ListCommentsParams) Normalize() {
	if p.Page <= 0 {
		p.Page = DefaultPage
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
}

// CommentPatch 局部更新评论，只写入非 nil 的列，UpdatedAt 总是写入。
// flag_count 不在其中，只能通过举报计数修改
type CommentPatch struct {
	Content    *string
	IsEdited   *bool
	EditedAt   *time.Time
	Status     *string
	IsRemoved  *bool
	IsRejected *bool
	Moderated  *bool
	UpdatedAt  time.Time
}

// Apply 把补丁写到内存中的评论上
func (p *CommentPatch) Apply(c *Comment) {
	if p.Content != nil {
		c.Content = *p.Content
	}
	if p.IsEdited != nil {
		c.IsEdited = *p.IsEdited
	}
	if p.EditedAt != nil {
		t := *p.EditedAt
		c.EditedAt = &t
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.IsRemoved != nil {
		c.IsRemoved = *p.IsRemoved
	}
	if p.IsRejected != nil {
		c.IsRejected = *p.IsRejected
	}
	if p.Moderated != nil {
		c.Moderated = *p.Moderated
	}
	c.UpdatedAt = p.UpdatedAt
}

// Columns 补丁对应的数据库列
func (p *CommentPatch) Columns() map[string]interface{} {
	cols := map[string]interface{}{"updated_at": p.UpdatedAt}
	if p.Content != nil {
		cols["content"] = *p.Content
	}
	if p.IsEdited != nil {
		cols["is_edited"] = *p.IsEdited
	}
	if p.EditedAt != nil {
		cols["edited_at"] = *p.EditedAt
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.IsRemoved != nil {
		cols["is_removed"] = *p.IsRemoved
	}
	if p.IsRejected != nil {
		cols["is_rejected"] = *p.IsRejected
	}
	if p.Moderated != nil {
		cols["moderated"] = *p.Moderated
	}
	return cols
}

// CleanupFilter 清理条件，各条件之间为或
type CleanupFilter struct {
	// RemovedBefore 非零时匹配在此之前被移除的评论
	RemovedBefore time.Time
	NonPublic     bool // 所有非公开或已移除的评论
	Spam          bool // 收到过垃圾举报的评论
	Flagged       bool // 收到过任意举报的评论
}

// Empty 没有任何条件
func (f CleanupFilter) Empty() bool {
	return f.RemovedBefore.IsZero() && !f.NonPublic && !f.Spam && !f.Flagged
}

// Match 内存实现使用的匹配逻辑，hasSpamFlag 由调用方提供
func (f CleanupFilter) Match(c *Comment, hasSpamFlag bool) bool {
	switch {
	case !f.RemovedBefore.IsZero() && c.IsRemoved && c.UpdatedAt.Before(f.RemovedBefore):
		return true
	case f.NonPublic && !c.IsPublic():
		return true
	case f.Spam && hasSpamFlag:
		return true
	case f.Flagged && c.FlagCount > 0:
		return true
	}
	return false
}

// CleanupParams 清理参数
type CleanupParams struct {
	// OlderThan 移除时间早于 now-OlderThan 的评论，0 不按时间清理
	OlderThan time.Duration
	NonPublic bool
	Spam      bool
	Flagged   bool
	DryRun    bool
	BatchSize int
}

// CleanupResult 清理结果。DryRun 时 Deleted 为 0，Sample 为前几条匹配的评论
type CleanupResult struct {
	Matched int64
	Deleted int64
	Sample  []*Comment
}

// FlagCommentParams 举报参数
type FlagCommentParams struct {
	CommentID int64  `json:"comment_id"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
}

// ModerateCommentParams 人工审核参数
type ModerateCommentParams struct {
	CommentID int64  `json:"comment_id"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
}

// BanUserParams 封禁参数
type BanUserParams struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
	// ExpiresAt 为空表示永久
	ExpiresAt *time.Time `json:"expires_at"`
}

// FlagCategories 合法举报类别
var FlagCategories = []string{FlagCategorySpam, FlagCategoryInappropriate, FlagCategoryHarassment, FlagCategoryOther}

// ValidFlagCategory 是否合法举报类别
func ValidFlagCategory(category string) bool {
	for _, c := range FlagCategories {
		if c == category {
			return true
		}
	}
	return false
}
