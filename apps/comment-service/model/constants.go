package model

// 评论可见状态
const (
	CommentStatusPublic  = "public"  // 公开
	CommentStatusPending = "pending" // 待审核
	CommentStatusHidden  = "hidden"  // 已隐藏
	CommentStatusRemoved = "removed" // 已移除（软删除）
)

// 评论内容格式
const (
	FormatPlain    = "plain"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// 举报类别
const (
	FlagCategorySpam          = "spam"
	FlagCategoryInappropriate = "inappropriate"
	FlagCategoryHarassment    = "harassment"
	FlagCategoryOther         = "other"
)

// 举报处理状态
const (
	FlagReviewUnreviewed = "unreviewed"
	FlagReviewDismissed  = "dismissed"
	FlagReviewActioned   = "actioned"
)

// 人工审核动作
const (
	ModerationApprove = "approve"
	ModerationReject  = "reject"
	ModerationRemove  = "remove"
)

// 审核日志动作
const (
	LogActionCreated     = "created"
	LogActionEdited      = "edited"
	LogActionApproved    = "approved"
	LogActionRejected    = "rejected"
	LogActionRemoved     = "removed"
	LogActionFlagged     = "flagged"
	LogActionAutoHidden  = "auto_hidden"
	LogActionAutoDeleted = "auto_deleted"
	LogActionFlagReview  = "flag_reviewed"
	LogActionBanned      = "banned"
	LogActionUnbanned    = "unbanned"
	LogActionPurged      = "purged"
)

// 审核日志对象类型
const (
	SubjectComment = "comment"
	SubjectUser    = "user"
	SubjectFlag    = "flag"
)

// SystemActorID 系统自动操作使用的操作者ID
const SystemActorID int64 = 0

// 分页常量
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// 评论列表排序
const (
	SortCreatedAsc  = "created_at"
	SortCreatedDesc = "-created_at"
	SortUpdatedAsc  = "updated_at"
	SortUpdatedDesc = "-updated_at"
)

// Sorts 支持的排序
var Sorts = []string{SortCreatedDesc, SortCreatedAsc, SortUpdatedDesc, SortUpdatedAsc}

// SortOrder 排序对应的列和方向，未知取值按 created_at 升序
func SortOrder(sort string) (column string, desc bool) {
	switch sort {
	case SortCreatedDesc:
		return "created_at", true
	case SortUpdatedAsc:
		return "updated_at", false
	case SortUpdatedDesc:
		return "updated_at", true
	default:
		return "created_at", false
	}
}

// ValidSort 是否支持的排序
func ValidSort(sort string) bool {
	for _, s := range Sorts {
		if s == sort {
			return true
		}
	}
	return false
}
