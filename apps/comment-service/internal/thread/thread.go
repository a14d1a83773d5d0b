// Package thread 计算回复层级与线程根，并按稳定顺序重建评论树
package thread

import (
	"sort"

	"goim-comment/apps/comment-service/model"
)

// Target 被评论的对象
type Target struct {
	ObjectType string
	ObjectID   int64
}

// Placement 新评论在线程中的位置
type Placement struct {
	Depth  int
	RootID int64
}

// Manager 线程管理器，无状态，不做任何 I/O
type Manager struct {
	maxDepth *int
}

// NewManager maxDepth 为 nil 表示不限层级
func NewManager(maxDepth *int) *Manager {
	return &Manager{maxDepth: maxDepth}
}

// MaxDepth 当前层级上限
func (m *Manager) MaxDepth() (int, bool) {
	if m.maxDepth == nil {
		return 0, false
	}
	return *m.maxDepth, true
}

// Attach 计算 selfID 挂到 parent 下的位置；parent 为 nil 时作为顶级评论
func (m *Manager) Attach(target Target, parent *model.Comment, selfID int64) (Placement, error) {
	if parent == nil {
		return Placement{Depth: 0, RootID: selfID}, nil
	}
	if parent.IsRemoved || parent.Status == model.CommentStatusRemoved {
		return Placement{}, model.NewValidationError("parent_id", "cannot reply to a removed comment")
	}
	if parent.ObjectType != target.ObjectType || parent.ObjectID != target.ObjectID {
		return Placement{}, model.NewValidationError("parent_id", "parent comment belongs to a different object")
	}

	depth := parent.Depth + 1
	if m.maxDepth != nil && depth > *m.maxDepth {
		return Placement{}, &model.DepthExceededError{MaxDepth: *m.maxDepth}
	}

	rootID := parent.RootID
	if rootID == 0 {
		rootID = parent.ID
	}
	return Placement{Depth: depth, RootID: rootID}, nil
}

// Less 按 (RootID, Depth, CreatedAt, ID) 排序
func Less(a, b *model.Comment) bool {
	if a.RootID != b.RootID {
		return a.RootID < b.RootID
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort 原地排序
func Sort(comments []*model.Comment) {
	sort.SliceStable(comments, func(i, j int) bool { return Less(comments[i], comments[j]) })
}

// BuildTree 把同一对象下的评论重建为嵌套树，返回顶级节点。
// 父节点不在列表中的评论（例如父评论被过滤掉）提升为顶级节点。
func BuildTree(comments []*model.Comment) []*model.Comment {
	sorted := make([]*model.Comment, len(comments))
	copy(sorted, comments)
	Sort(sorted)

	byID := make(map[int64]*model.Comment, len(sorted))
	for _, c := range sorted {
		c.Replies = nil
		byID[c.ID] = c
	}

	var roots []*model.Comment
	for _, c := range sorted {
		parent, ok := byID[c.ParentID]
		if c.ParentID == 0 || !ok {
			roots = append(roots, c)
			continue
		}
		parent.Replies = append(parent.Replies, c)
	}
	// 父节点缺失时提升的节点可能跨线程，统一按时间排
	sort.SliceStable(roots, func(i, j int) bool {
		if !roots[i].CreatedAt.Equal(roots[j].CreatedAt) {
			return roots[i].CreatedAt.Before(roots[j].CreatedAt)
		}
		return roots[i].ID < roots[j].ID
	})
	return roots
}

// Flatten 深度优先展开树
func Flatten(roots []*model.Comment) []*model.Comment {
	var out []*model.Comment
	var walk func(nodes []*model.Comment)
	walk = func(nodes []*model.Comment) {
		for _, n := range nodes {
			out = append(out, n)
			walk(n.Replies)
		}
	}
	walk(roots)
	return out
}
