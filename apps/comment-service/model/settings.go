package model

import "time"

// Settings 审核引擎配置，启动时由配置文件转换一次后传入各组件
type Settings struct {
	CommentableTypes []string
	// MaxCommentDepth nil 表示不限层级
	MaxCommentDepth  *int
	MaxCommentLength int

	AllowAnonymous   bool
	AllowEditing     bool
	EditWindow       time.Duration // 0 不限时
	TrackEditHistory bool

	ModeratorRequired        bool
	AutoApproveRoles         []string
	AutoApproveAfterApproved int // 0 关闭
	ModeratorRoles           []string

	// DefaultSort 列表默认排序；AllowedSorts 为空时允许全部 Sorts
	DefaultSort  string
	AllowedSorts []string

	SpamWords       []string
	SpamAction      string
	ProfanityWords  []string
	ProfanityAction string

	// 举报阈值，nil 关闭对应规则
	FlagNotifyThreshold *int
	AutoHideThreshold   *int
	AutoDeleteThreshold *int

	// 自动封禁阈值，nil 关闭
	AutoBanAfterRejections *int
	AutoBanAfterSpamFlags  *int
	DefaultBanDuration     time.Duration // 0 永久
}

// IntPtr 返回指向 v 的指针
func IntPtr(v int) *int {
	return &v
}

// PositiveOrNil 0 及负数视为未设置
func PositiveOrNil(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

// IsCommentable 对象类型是否允许评论
func (s *Settings) IsCommentable(objectType string) bool {
	for _, t := range s.CommentableTypes {
		if t == objectType {
			return true
		}
	}
	return false
}

// ResolveSort 不允许的排序回退到默认排序
func (s *Settings) ResolveSort(sort string) string {
	if sort != "" && ValidSort(sort) && (len(s.AllowedSorts) == 0 || containsString(s.AllowedSorts, sort)) {
		return sort
	}
	return s.DefaultSort
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// IsModerator 是否拥有审核权限
func (s *Settings) IsModerator(actor Actor) bool {
	return actor.UserID != 0 && actor.HasAnyRole(s.ModeratorRoles)
}
