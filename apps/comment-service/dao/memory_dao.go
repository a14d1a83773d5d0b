package dao

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"goim-comment/apps/comment-service/model"
)

type flagKey struct {
	commentID int64
	userID    int64
}

// MemoryStore 进程内存储，用于开发模式（storage.driver=memory）和测试
type MemoryStore struct {
	mu        sync.RWMutex
	comments  map[int64]*model.Comment
	flags     map[string]*model.Flag
	flagIndex map[flagKey]string
	bans      map[int64]*model.Ban
	logs      []*model.ModerationLog
	revisions []*model.CommentRevision
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		comments:  make(map[int64]*model.Comment),
		flags:     make(map[string]*model.Flag),
		flagIndex: make(map[flagKey]string),
		bans:      make(map[int64]*model.Ban),
	}
}

func cloneComment(c *model.Comment) *model.Comment {
	cp := *c
	cp.Replies = nil
	return &cp
}

// CreateComment 创建评论
func (m *MemoryStore) CreateComment(_ context.Context, comment *model.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[comment.ID]; ok {
		return fmt.Errorf("comment %d already exists", comment.ID)
	}
	m.comments[comment.ID] = cloneComment(comment)
	return nil
}

// GetComment 获取评论
func (m *MemoryStore) GetComment(_ context.Context, commentID int64) (*model.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[commentID]
	if !ok {
		return nil, fmt.Errorf("comment %d: %w", commentID, model.ErrNotFound)
	}
	return cloneComment(c), nil
}

// PatchComment 局部更新
func (m *MemoryStore) PatchComment(_ context.Context, commentID int64, patch *model.CommentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[commentID]
	if !ok {
		return fmt.Errorf("comment %d: %w", commentID, model.ErrNotFound)
	}
	patch.Apply(c)
	return nil
}

// FindChildren 直接回复，按创建时间、ID排序
func (m *MemoryStore) FindChildren(_ context.Context, parentID int64) ([]*model.Comment, error) {
	return m.filterSorted(func(c *model.Comment) bool { return c.ParentID == parentID }), nil
}

// FindByThreadRoot 整个线程
func (m *MemoryStore) FindByThreadRoot(_ context.Context, rootID int64) ([]*model.Comment, error) {
	return m.filterSorted(func(c *model.Comment) bool { return c.RootID == rootID }), nil
}

// ListComments 对象下的评论
func (m *MemoryStore) ListComments(_ context.Context, params *model.ListCommentsParams) ([]*model.Comment, int64, error) {
	all := m.filterSorted(func(c *model.Comment) bool {
		if c.ObjectType != params.ObjectType || c.ObjectID != params.ObjectID {
			return false
		}
		return params.IncludeHidden || c.IsPublic()
	})
	column, desc := model.SortOrder(params.Sort)
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].CreatedAt, all[j].CreatedAt
		if column == "updated_at" {
			a, b = all[i].UpdatedAt, all[j].UpdatedAt
		}
		if desc {
			a, b = b, a
			if a.Equal(b) {
				return all[i].ID > all[j].ID
			}
		} else if a.Equal(b) {
			return all[i].ID < all[j].ID
		}
		return a.Before(b)
	})
	return paginate(all, params.Page, params.PageSize), int64(len(all)), nil
}

// ListPending 待审核评论
func (m *MemoryStore) ListPending(_ context.Context, page, pageSize int32) ([]*model.Comment, int64, error) {
	all := m.filterSorted(func(c *model.Comment) bool {
		return c.Status == model.CommentStatusPending && !c.IsRemoved
	})
	return paginate(all, page, pageSize), int64(len(all)), nil
}

// IncrementFlagCount 原子加一
func (m *MemoryStore) IncrementFlagCount(_ context.Context, commentID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementLocked(commentID)
}

func (m *MemoryStore) incrementLocked(commentID int64) (int, error) {
	c, ok := m.comments[commentID]
	if !ok {
		return 0, fmt.Errorf("comment %d: %w", commentID, model.ErrNotFound)
	}
	c.FlagCount++
	return c.FlagCount, nil
}

// TransitionStatus 条件更新状态
func (m *MemoryStore) TransitionStatus(_ context.Context, commentID int64, from []string, to string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[commentID]
	if !ok {
		return false, fmt.Errorf("comment %d: %w", commentID, model.ErrNotFound)
	}
	if c.Moderated || !contains(from, c.Status) {
		return false, nil
	}
	c.Status = to
	c.IsRemoved = to == model.CommentStatusRemoved
	c.UpdatedAt = at
	return true, nil
}

// CountRejectedComments 被拒绝的评论数
func (m *MemoryStore) CountRejectedComments(_ context.Context, userID int64) (int64, error) {
	return m.count(func(c *model.Comment) bool { return c.UserID == userID && c.IsRejected }), nil
}

// CountApprovedComments 已公开的评论数
func (m *MemoryStore) CountApprovedComments(_ context.Context, userID int64) (int64, error) {
	return m.count(func(c *model.Comment) bool { return c.UserID == userID && c.IsPublic() }), nil
}

// CountPublicComments 对象下公开评论数
func (m *MemoryStore) CountPublicComments(_ context.Context, objectType string, objectID int64) (int64, error) {
	return m.count(func(c *model.Comment) bool {
		return c.ObjectType == objectType && c.ObjectID == objectID && c.IsPublic()
	}), nil
}

// FindForCleanup 待清理的评论，按 id 升序
func (m *MemoryStore) FindForCleanup(_ context.Context, filter model.CleanupFilter, afterID int64, limit int) ([]*model.Comment, error) {
	if filter.Empty() {
		return nil, nil
	}
	m.mu.RLock()
	spam := make(map[int64]bool)
	for _, f := range m.flags {
		if f.Category == model.FlagCategorySpam {
			spam[f.CommentID] = true
		}
	}
	var found []*model.Comment
	for _, c := range m.comments {
		if c.ID > afterID && filter.Match(c, spam[c.ID]) {
			found = append(found, cloneComment(c))
		}
	}
	m.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// DeleteComments 物理删除
func (m *MemoryStore) DeleteComments(_ context.Context, commentIDs []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	purged := make(map[int64]bool, len(commentIDs))
	for _, id := range commentIDs {
		if _, ok := m.comments[id]; ok {
			delete(m.comments, id)
			purged[id] = true
			n++
		}
	}
	kept := m.revisions[:0]
	for _, r := range m.revisions {
		if !purged[r.CommentID] {
			kept = append(kept, r)
		}
	}
	m.revisions = kept
	return n, nil
}

// CreateRevision 记录编辑历史
func (m *MemoryStore) CreateRevision(_ context.Context, rev *model.CommentRevision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rev
	m.revisions = append(m.revisions, &cp)
	return nil
}

// ListRevisions 编辑历史
func (m *MemoryStore) ListRevisions(_ context.Context, commentID int64) ([]*model.CommentRevision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.CommentRevision
	for _, r := range m.revisions {
		if r.CommentID == commentID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CreateFlag 创建举报
func (m *MemoryStore) CreateFlag(_ context.Context, flag *model.Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createFlagLocked(flag)
}

// RecordFlag 评论不存在时不写入举报
func (m *MemoryStore) RecordFlag(_ context.Context, flag *model.Flag) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[flag.CommentID]; !ok {
		return 0, fmt.Errorf("comment %d: %w", flag.CommentID, model.ErrNotFound)
	}
	if err := m.createFlagLocked(flag); err != nil {
		return 0, err
	}
	return m.incrementLocked(flag.CommentID)
}

func (m *MemoryStore) createFlagLocked(flag *model.Flag) error {
	key := flagKey{commentID: flag.CommentID, userID: flag.UserID}
	if _, ok := m.flagIndex[key]; ok {
		return model.ErrAlreadyFlagged
	}
	cp := *flag
	m.flags[flag.ID] = &cp
	m.flagIndex[key] = flag.ID
	return nil
}

// GetFlag 获取举报
func (m *MemoryStore) GetFlag(_ context.Context, flagID string) (*model.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[flagID]
	if !ok {
		return nil, fmt.Errorf("flag %s: %w", flagID, model.ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

// SaveFlag 保存举报
func (m *MemoryStore) SaveFlag(_ context.Context, flag *model.Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flags[flag.ID]; !ok {
		return fmt.Errorf("flag %s: %w", flag.ID, model.ErrNotFound)
	}
	cp := *flag
	m.flags[flag.ID] = &cp
	return nil
}

// ListFlags 评论的全部举报
func (m *MemoryStore) ListFlags(_ context.Context, commentID int64) ([]*model.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Flag
	for _, f := range m.flags {
		if f.CommentID == commentID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountSpamFlagsForUser 用户收到的垃圾举报
func (m *MemoryStore) CountSpamFlagsForUser(_ context.Context, userID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, f := range m.flags {
		if f.CommentAuthorID == userID && f.Category == model.FlagCategorySpam && f.ReviewState != model.FlagReviewDismissed {
			n++
		}
	}
	return n, nil
}

// CreateBan 创建封禁
func (m *MemoryStore) CreateBan(_ context.Context, ban *model.Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ban
	m.bans[ban.ID] = &cp
	return nil
}

// SaveBan 保存封禁
func (m *MemoryStore) SaveBan(_ context.Context, ban *model.Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bans[ban.ID]; !ok {
		return fmt.Errorf("ban %d: %w", ban.ID, model.ErrNotFound)
	}
	cp := *ban
	m.bans[ban.ID] = &cp
	return nil
}

// FindActiveBan 生效中的封禁
func (m *MemoryStore) FindActiveBan(_ context.Context, userID int64, now time.Time) (*model.Ban, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *model.Ban
	for _, b := range m.bans {
		if b.UserID != userID || !b.Active(now) {
			continue
		}
		if found == nil || b.StartsAt.After(found.StartsAt) {
			found = b
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

// ListBans 用户的封禁历史
func (m *MemoryStore) ListBans(_ context.Context, userID int64) ([]*model.Ban, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Ban
	for _, b := range m.bans {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// AppendLog 追加审核日志
func (m *MemoryStore) AppendLog(_ context.Context, log *model.ModerationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *log
	m.logs = append(m.logs, &cp)
	return nil
}

// ListLogs 某对象的审核日志
func (m *MemoryStore) ListLogs(_ context.Context, subjectType, subjectID string) ([]*model.ModerationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ModerationLog
	for _, l := range m.logs {
		if l.SubjectType == subjectType && l.SubjectID == subjectID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) filterSorted(keep func(*model.Comment) bool) []*model.Comment {
	m.mu.RLock()
	out := make([]*model.Comment, 0)
	for _, c := range m.comments {
		if keep(c) {
			out = append(out, cloneComment(c))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) count(keep func(*model.Comment) bool) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.comments {
		if keep(c) {
			n++
		}
	}
	return n
}

func paginate(all []*model.Comment, page, pageSize int32) []*model.Comment {
	if page <= 0 {
		page = model.DefaultPage
	}
	if pageSize <= 0 {
		pageSize = model.DefaultPageSize
	}
	start := int((page - 1) * pageSize)
	if start >= len(all) {
		return []*model.Comment{}
	}
	end := start + int(pageSize)
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
