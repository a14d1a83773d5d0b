package thread

import (
	"errors"
	"testing"
	"time"

	"goim-comment/apps/comment-service/model"
)

var (
	article = Target{ObjectType: "article", ObjectID: 1}
	t0      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func place(t *testing.T, m *Manager, parent *model.Comment, id int64, at time.Duration) *model.Comment {
	t.Helper()
	p, err := m.Attach(article, parent, id)
	if err != nil {
		t.Fatalf("Attach(%d): %v", id, err)
	}
	c := &model.Comment{
		ID: id, ObjectType: article.ObjectType, ObjectID: article.ObjectID,
		Depth: p.Depth, RootID: p.RootID, Status: model.CommentStatusPublic,
		CreatedAt: t0.Add(at),
	}
	if parent != nil {
		c.ParentID = parent.ID
	}
	return c
}

func TestAttachDepthLimit(t *testing.T) {
	m := NewManager(model.IntPtr(2))

	a := place(t, m, nil, 10, 0)
	b := place(t, m, a, 11, time.Second)
	c := place(t, m, b, 12, 2*time.Second)

	if a.Depth != 0 || a.RootID != 10 {
		t.Errorf("root placement = depth %d root %d", a.Depth, a.RootID)
	}
	if b.Depth != 1 || b.RootID != 10 {
		t.Errorf("reply placement = depth %d root %d", b.Depth, b.RootID)
	}
	if c.Depth != 2 || c.RootID != 10 {
		t.Errorf("nested placement = depth %d root %d", c.Depth, c.RootID)
	}

	_, err := m.Attach(article, c, 13)
	if !errors.Is(err, model.ErrDepthExceeded) {
		t.Fatalf("Attach below max depth error = %v, want ErrDepthExceeded", err)
	}
	var depthErr *model.DepthExceededError
	if !errors.As(err, &depthErr) || depthErr.MaxDepth != 2 {
		t.Errorf("error = %#v", err)
	}
}

func TestAttachUnlimited(t *testing.T) {
	m := NewManager(nil)
	parent := place(t, m, nil, 1, 0)
	for i := int64(2); i < 50; i++ {
		parent = place(t, m, parent, i, time.Duration(i)*time.Second)
	}
	if parent.Depth != 48 || parent.RootID != 1 {
		t.Errorf("deep reply = depth %d root %d", parent.Depth, parent.RootID)
	}
	if _, ok := m.MaxDepth(); ok {
		t.Error("MaxDepth reported a limit for an unlimited manager")
	}
}

func TestAttachInvalidParent(t *testing.T) {
	m := NewManager(model.IntPtr(5))
	tests := []struct {
		name   string
		parent *model.Comment
	}{
		{"removed parent", &model.Comment{ID: 1, RootID: 1, ObjectType: "article", ObjectID: 1, Status: model.CommentStatusRemoved, IsRemoved: true}},
		{"other object id", &model.Comment{ID: 1, RootID: 1, ObjectType: "article", ObjectID: 2, Status: model.CommentStatusPublic}},
		{"other object type", &model.Comment{ID: 1, RootID: 1, ObjectType: "video", ObjectID: 1, Status: model.CommentStatusPublic}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Attach(article, tt.parent, 2)
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}

	// 隐藏的父评论仍可回复
	hidden := &model.Comment{ID: 1, RootID: 1, ObjectType: "article", ObjectID: 1, Status: model.CommentStatusHidden}
	if _, err := m.Attach(article, hidden, 2); err != nil {
		t.Errorf("reply to hidden parent: %v", err)
	}
}

func TestBuildTreeOrdering(t *testing.T) {
	m := NewManager(nil)
	a := place(t, m, nil, 100, 0)
	// 同一时刻创建的兄弟节点按ID排序
	b2 := place(t, m, a, 102, time.Minute)
	b1 := place(t, m, a, 101, time.Minute)
	c := place(t, m, b1, 103, 30*time.Second)
	d := place(t, m, nil, 50, time.Hour)
	orphan := &model.Comment{ID: 200, ParentID: 999, RootID: 999, Depth: 1, CreatedAt: t0.Add(2 * time.Hour)}

	roots := BuildTree([]*model.Comment{d, c, b2, orphan, a, b1})

	var ids []int64
	for _, n := range Flatten(roots) {
		ids = append(ids, n.ID)
	}
	want := []int64{100, 101, 103, 102, 50, 200}
	if len(ids) != len(want) {
		t.Fatalf("flattened = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("flattened = %v, want %v", ids, want)
		}
	}
	if len(roots) != 3 {
		t.Errorf("roots = %d, want 3", len(roots))
	}
	if len(a.Replies) != 2 || a.Replies[0].ID != 101 {
		t.Errorf("replies of root = %v", a.Replies)
	}
}

func TestLessIsStable(t *testing.T) {
	x := &model.Comment{ID: 1, RootID: 1, Depth: 1, CreatedAt: t0}
	y := &model.Comment{ID: 2, RootID: 1, Depth: 1, CreatedAt: t0}
	if !Less(x, y) || Less(y, x) {
		t.Error("ties must break by id")
	}
	if Less(x, x) {
		t.Error("Less must be irreflexive")
	}
}
