package converter

import (
	"strconv"
	"strings"
	"time"

	"goim-comment/apps/comment-service/internal/flagging"
	"goim-comment/apps/comment-service/internal/formatting"
	"goim-comment/apps/comment-service/model"
)

// ID 对外一律用十进制字符串，避免 JS 丢失 int64 精度

// Comment 评论
type Comment struct {
	ID          string     `json:"id"`
	ObjectType  string     `json:"object_type"`
	ObjectID    string     `json:"object_id"`
	UserID      string     `json:"user_id"`
	UserName    string     `json:"user_name"`
	ParentID    string     `json:"parent_id"`
	RootID      string     `json:"root_id"`
	Depth       int        `json:"depth"`
	Content     string     `json:"content"`
	ContentHTML string     `json:"content_html"`
	Format      string     `json:"format"`
	Status      string     `json:"status"`
	IsEdited    bool       `json:"is_edited"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	// Moderation 仅审核员可见
	Moderation *Moderation `json:"moderation,omitempty"`
	Replies    []*Comment  `json:"replies,omitempty"`
}

// Moderation 审核相关字段
type Moderation struct {
	FlagCount  int    `json:"flag_count"`
	IsRemoved  bool   `json:"is_removed"`
	IsRejected bool   `json:"is_rejected"`
	Moderated  bool   `json:"moderated"`
	UserEmail  string `json:"user_email,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
}

// CommentList 分页列表
type CommentList struct {
	Comments []*Comment `json:"comments"`
	Total    int64      `json:"total"`
	Page     int32      `json:"page"`
	PageSize int32      `json:"page_size"`
}

// Flag 举报
type Flag struct {
	ID          string     `json:"id"`
	CommentID   string     `json:"comment_id"`
	UserID      string     `json:"user_id"`
	Category    string     `json:"category"`
	Reason      string     `json:"reason"`
	ReviewState string     `json:"review_state"`
	ReviewerID  string     `json:"reviewer_id,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FlagResult 举报结果
type FlagResult struct {
	Flag      *Flag    `json:"flag"`
	FlagCount int      `json:"flag_count"`
	Actions   []string `json:"actions"`
}

// Ban 封禁
type Ban struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	BannedBy  string     `json:"banned_by"`
	Reason    string     `json:"reason"`
	Permanent bool       `json:"permanent"`
	StartsAt  time.Time  `json:"starts_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	LiftedAt  *time.Time `json:"lifted_at,omitempty"`
	LiftedBy  string     `json:"lifted_by,omitempty"`
	Active    bool       `json:"active"`
}

// BanStatus 封禁状态查询结果
type BanStatus struct {
	UserID string `json:"user_id"`
	Banned bool   `json:"banned"`
	Ban    *Ban   `json:"ban,omitempty"`
}

// Revision 编辑历史
type Revision struct {
	ID        string    `json:"id"`
	CommentID string    `json:"comment_id"`
	Content   string    `json:"content"`
	EditedBy  string    `json:"edited_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ModerationLog 审核日志
type ModerationLog struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	ActorID     string    `json:"actor_id"`
	OldStatus   string    `json:"old_status,omitempty"`
	NewStatus   string    `json:"new_status,omitempty"`
	Detail      string    `json:"detail"`
	CreatedAt   time.Time `json:"created_at"`
}

// Converter 模型到响应结构的转换
type Converter struct {
	now func() time.Time
}

// NewConverter 创建转换器
func NewConverter(now func() time.Time) *Converter {
	if now == nil {
		now = time.Now
	}
	return &Converter{now: now}
}

// FormatID int64 转字符串，0 输出空串
func FormatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// ParseID 解析字符串ID，空串为0
func ParseID(field, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, model.NewValidationError(field, "must be a non-negative integer id")
	}
	return id, nil
}

// CommentToDTO 单条评论，withModeration 时附带审核字段
func (c *Converter) CommentToDTO(m *model.Comment, withModeration bool) *Comment {
	if m == nil {
		return nil
	}
	dto := &Comment{
		ID:          FormatID(m.ID),
		ObjectType:  m.ObjectType,
		ObjectID:    FormatID(m.ObjectID),
		UserID:      FormatID(m.UserID),
		UserName:    m.UserName,
		ParentID:    FormatID(m.ParentID),
		RootID:      FormatID(m.RootID),
		Depth:       m.Depth,
		Content:     m.Content,
		ContentHTML: formatting.Render(m.Format, m.Content),
		Format:      m.Format,
		Status:      m.Status,
		IsEdited:    m.IsEdited,
		EditedAt:    m.EditedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if withModeration {
		dto.Moderation = &Moderation{
			FlagCount:  m.FlagCount,
			IsRemoved:  m.IsRemoved,
			IsRejected: m.IsRejected,
			Moderated:  m.Moderated,
			UserEmail:  m.UserEmail,
			IPAddress:  m.IPAddress,
		}
	}
	for _, r := range m.Replies {
		dto.Replies = append(dto.Replies, c.CommentToDTO(r, withModeration))
	}
	return dto
}

// CommentsToDTO 批量转换
func (c *Converter) CommentsToDTO(list []*model.Comment, withModeration bool) []*Comment {
	out := make([]*Comment, 0, len(list))
	for _, m := range list {
		out = append(out, c.CommentToDTO(m, withModeration))
	}
	return out
}

// CommentListToDTO 分页结果
func (c *Converter) CommentListToDTO(list []*model.Comment, total int64, page, pageSize int32, withModeration bool) *CommentList {
	return &CommentList{
		Comments: c.CommentsToDTO(list, withModeration),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
}

// FlagToDTO 举报
func (c *Converter) FlagToDTO(f *model.Flag) *Flag {
	if f == nil {
		return nil
	}
	return &Flag{
		ID:          f.ID,
		CommentID:   FormatID(f.CommentID),
		UserID:      FormatID(f.UserID),
		Category:    f.Category,
		Reason:      f.Reason,
		ReviewState: f.ReviewState,
		ReviewerID:  FormatID(f.ReviewerID),
		ReviewedAt:  f.ReviewedAt,
		CreatedAt:   f.CreatedAt,
	}
}

// FlagsToDTO 批量转换
func (c *Converter) FlagsToDTO(list []*model.Flag) []*Flag {
	out := make([]*Flag, 0, len(list))
	for _, f := range list {
		out = append(out, c.FlagToDTO(f))
	}
	return out
}

// FlagResultToDTO 举报及阈值处理结果
func (c *Converter) FlagResultToDTO(f *model.Flag, outcome flagging.Outcome) *FlagResult {
	actions := make([]string, 0, len(outcome.Actions))
	for _, a := range outcome.Actions {
		actions = append(actions, string(a))
	}
	return &FlagResult{
		Flag:      c.FlagToDTO(f),
		FlagCount: outcome.NewFlagCount,
		Actions:   actions,
	}
}

// BanToDTO 封禁
func (c *Converter) BanToDTO(b *model.Ban) *Ban {
	if b == nil {
		return nil
	}
	return &Ban{
		ID:        FormatID(b.ID),
		UserID:    FormatID(b.UserID),
		BannedBy:  FormatID(b.BannedBy),
		Reason:    b.Reason,
		Permanent: b.IsPermanent(),
		StartsAt:  b.StartsAt,
		ExpiresAt: b.ExpiresAt,
		LiftedAt:  b.LiftedAt,
		LiftedBy:  FormatID(b.LiftedBy),
		Active:    b.Active(c.now()),
	}
}

// BansToDTO 批量转换
func (c *Converter) BansToDTO(list []*model.Ban) []*Ban {
	out := make([]*Ban, 0, len(list))
	for _, b := range list {
		out = append(out, c.BanToDTO(b))
	}
	return out
}

// BanStatusToDTO 当前是否被封禁
func (c *Converter) BanStatusToDTO(userID int64, b *model.Ban) *BanStatus {
	return &BanStatus{
		UserID: FormatID(userID),
		Banned: b != nil,
		Ban:    c.BanToDTO(b),
	}
}

// RevisionsToDTO 编辑历史
func (c *Converter) RevisionsToDTO(list []*model.CommentRevision) []*Revision {
	out := make([]*Revision, 0, len(list))
	for _, r := range list {
		out = append(out, &Revision{
			ID:        FormatID(r.ID),
			CommentID: FormatID(r.CommentID),
			Content:   r.Content,
			EditedBy:  FormatID(r.EditedBy),
			CreatedAt: r.CreatedAt,
		})
	}
	return out
}

// LogsToDTO 审核日志
func (c *Converter) LogsToDTO(list []*model.ModerationLog) []*ModerationLog {
	out := make([]*ModerationLog, 0, len(list))
	for _, l := range list {
		out = append(out, &ModerationLog{
			ID:          FormatID(l.ID),
			Action:      l.Action,
			SubjectType: l.SubjectType,
			SubjectID:   l.SubjectID,
			ActorID:     strconv.FormatInt(l.ActorID, 10),
			OldStatus:   l.OldStatus,
			NewStatus:   l.NewStatus,
			Detail:      l.Detail,
			CreatedAt:   l.CreatedAt,
		})
	}
	return out
}
