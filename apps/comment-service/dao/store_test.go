package dao

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"goim-comment/apps/comment-service/model"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newComment(id, parentID, rootID int64, depth int, userID int64, at time.Duration) *model.Comment {
	return &model.Comment{
		ID:         id,
		ObjectID:   7,
		ObjectType: "article",
		UserID:     userID,
		Content:    "body",
		Format:     model.FormatPlain,
		ParentID:   parentID,
		RootID:     rootID,
		Depth:      depth,
		Status:     model.CommentStatusPublic,
		CreatedAt:  base.Add(at),
		UpdatedAt:  base.Add(at),
	}
}

// runStoreContract 两种存储实现共享的行为测试
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("comment lifecycle", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		root := newComment(100, 0, 100, 0, 1, 0)
		reply := newComment(101, 100, 100, 1, 2, time.Minute)
		nested := newComment(102, 101, 100, 2, 1, 2*time.Minute)
		for _, c := range []*model.Comment{root, reply, nested} {
			if err := s.CreateComment(ctx, c); err != nil {
				t.Fatalf("CreateComment(%d): %v", c.ID, err)
			}
		}

		got, err := s.GetComment(ctx, 101)
		if err != nil {
			t.Fatalf("GetComment: %v", err)
		}
		if got.ParentID != 100 || got.Depth != 1 {
			t.Errorf("unexpected reply %+v", got)
		}

		if _, err := s.GetComment(ctx, 999); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("GetComment(missing) error = %v, want ErrNotFound", err)
		}

		children, err := s.FindChildren(ctx, 100)
		if err != nil || len(children) != 1 || children[0].ID != 101 {
			t.Errorf("FindChildren = %v, %v", children, err)
		}

		thread, err := s.FindByThreadRoot(ctx, 100)
		if err != nil || len(thread) != 3 {
			t.Fatalf("FindByThreadRoot = %d comments, %v", len(thread), err)
		}

		n, err := s.CountPublicComments(ctx, "article", 7)
		if err != nil || n != 3 {
			t.Errorf("CountPublicComments = %d, %v; want 3", n, err)
		}
	})

	t.Run("patch writes only its columns", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		c := newComment(200, 0, 200, 0, 1, 0)
		if err := s.CreateComment(ctx, c); err != nil {
			t.Fatal(err)
		}
		for want := 1; want <= 2; want++ {
			got, err := s.IncrementFlagCount(ctx, 200)
			if err != nil || got != want {
				t.Fatalf("IncrementFlagCount = %d, %v; want %d", got, err, want)
			}
		}
		if ok, err := s.TransitionStatus(ctx, 200, []string{model.CommentStatusPublic}, model.CommentStatusHidden, base); err != nil || !ok {
			t.Fatalf("TransitionStatus = %v, %v", ok, err)
		}

		// 编辑补丁不能覆盖计数和状态
		content, edited, at := "edited", true, base.Add(time.Hour)
		patch := &model.CommentPatch{Content: &content, IsEdited: &edited, EditedAt: &at, UpdatedAt: at}
		if err := s.PatchComment(ctx, 200, patch); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetComment(ctx, 200)
		if got.FlagCount != 2 || got.Content != "edited" || got.Status != model.CommentStatusHidden || !got.IsEdited {
			t.Errorf("after patch: %+v", got)
		}
		if !got.UpdatedAt.Equal(at) {
			t.Errorf("updated_at = %v, want %v", got.UpdatedAt, at)
		}

		if err := s.PatchComment(ctx, 999, patch); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("patch missing comment: err = %v", err)
		}
	})

	t.Run("record flag is atomic", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		orphan := &model.Flag{ID: "r-1", CommentID: 260, UserID: 5, Category: model.FlagCategorySpam,
			ReviewState: model.FlagReviewUnreviewed, CreatedAt: base}
		if _, err := s.RecordFlag(ctx, orphan); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("RecordFlag(missing comment) error = %v, want ErrNotFound", err)
		}
		if flags, _ := s.ListFlags(ctx, 260); len(flags) != 0 {
			t.Fatalf("flag stored without its count: %+v", flags)
		}

		if err := s.CreateComment(ctx, newComment(260, 0, 260, 0, 1, 0)); err != nil {
			t.Fatal(err)
		}
		// 失败的举报不应挡住同一用户重试
		if n, err := s.RecordFlag(ctx, orphan); err != nil || n != 1 {
			t.Fatalf("retry RecordFlag = %d, %v", n, err)
		}
		dup := &model.Flag{ID: "r-2", CommentID: 260, UserID: 5, Category: model.FlagCategoryOther,
			ReviewState: model.FlagReviewUnreviewed, CreatedAt: base}
		if _, err := s.RecordFlag(ctx, dup); !errors.Is(err, model.ErrAlreadyFlagged) {
			t.Errorf("duplicate RecordFlag error = %v", err)
		}
		if got, _ := s.GetComment(ctx, 260); got.FlagCount != 1 {
			t.Errorf("flag_count = %d after duplicate, want 1", got.FlagCount)
		}
	})

	t.Run("concurrent flag increments", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		if err := s.CreateComment(ctx, newComment(250, 0, 250, 0, 1, 0)); err != nil {
			t.Fatal(err)
		}

		const n = 20
		seen := make(chan int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := s.IncrementFlagCount(ctx, 250)
				if err != nil {
					t.Error(err)
					return
				}
				seen <- v
			}()
		}
		wg.Wait()
		close(seen)

		values := make(map[int]bool)
		for v := range seen {
			if values[v] {
				t.Errorf("value %d returned twice", v)
			}
			values[v] = true
		}
		if len(values) != n {
			t.Errorf("got %d distinct counts, want %d", len(values), n)
		}
	})

	t.Run("transition status", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		if err := s.CreateComment(ctx, newComment(300, 0, 300, 0, 1, 0)); err != nil {
			t.Fatal(err)
		}

		at := base.Add(3 * time.Hour)
		ok, err := s.TransitionStatus(ctx, 300, []string{model.CommentStatusPublic}, model.CommentStatusHidden, at)
		if err != nil || !ok {
			t.Fatalf("first transition = %v, %v", ok, err)
		}
		if got, _ := s.GetComment(ctx, 300); !got.UpdatedAt.Equal(at) {
			t.Errorf("updated_at = %v, want %v", got.UpdatedAt, at)
		}
		ok, err = s.TransitionStatus(ctx, 300, []string{model.CommentStatusPublic}, model.CommentStatusHidden, at)
		if err != nil || ok {
			t.Errorf("second transition = %v, %v; want false", ok, err)
		}

		ok, _ = s.TransitionStatus(ctx, 300, []string{model.CommentStatusHidden}, model.CommentStatusRemoved, at)
		got, _ := s.GetComment(ctx, 300)
		if !ok || !got.IsRemoved || got.Status != model.CommentStatusRemoved {
			t.Errorf("remove transition: ok=%v comment=%+v", ok, got)
		}

		moderated := newComment(301, 0, 301, 0, 1, 0)
		moderated.Moderated = true
		if err := s.CreateComment(ctx, moderated); err != nil {
			t.Fatal(err)
		}
		ok, _ = s.TransitionStatus(ctx, 301, []string{model.CommentStatusPublic}, model.CommentStatusHidden, at)
		if ok {
			t.Error("moderated comment must not transition automatically")
		}
	})

	t.Run("duplicate flags and spam counting", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		if err := s.CreateComment(ctx, newComment(400, 0, 400, 0, 9, 0)); err != nil {
			t.Fatal(err)
		}

		first := &model.Flag{ID: "f-1", CommentID: 400, CommentAuthorID: 9, UserID: 5, Category: model.FlagCategorySpam,
			ReviewState: model.FlagReviewUnreviewed, CreatedAt: base}
		if err := s.CreateFlag(ctx, first); err != nil {
			t.Fatal(err)
		}
		dup := &model.Flag{ID: "f-2", CommentID: 400, UserID: 5, Category: model.FlagCategoryOther,
			ReviewState: model.FlagReviewUnreviewed, CreatedAt: base}
		if err := s.CreateFlag(ctx, dup); !errors.Is(err, model.ErrAlreadyFlagged) {
			t.Errorf("duplicate CreateFlag error = %v, want ErrAlreadyFlagged", err)
		}

		second := &model.Flag{ID: "f-3", CommentID: 400, CommentAuthorID: 9, UserID: 6, Category: model.FlagCategorySpam,
			ReviewState: model.FlagReviewUnreviewed, CreatedAt: base.Add(time.Second)}
		if err := s.CreateFlag(ctx, second); err != nil {
			t.Fatal(err)
		}
		if n, _ := s.CountSpamFlagsForUser(ctx, 9); n != 2 {
			t.Errorf("spam flags = %d, want 2", n)
		}

		second.ReviewState = model.FlagReviewDismissed
		if err := s.SaveFlag(ctx, second); err != nil {
			t.Fatal(err)
		}
		if n, _ := s.CountSpamFlagsForUser(ctx, 9); n != 1 {
			t.Errorf("spam flags after dismissal = %d, want 1", n)
		}

		flags, err := s.ListFlags(ctx, 400)
		if err != nil || len(flags) != 2 {
			t.Errorf("ListFlags = %d, %v", len(flags), err)
		}

		// 举报是审计记录，评论被清理后仍计入作者的垃圾举报
		if _, err := s.DeleteComments(ctx, []int64{400}); err != nil {
			t.Fatal(err)
		}
		if n, _ := s.CountSpamFlagsForUser(ctx, 9); n != 1 {
			t.Errorf("spam flags after purge = %d, want 1", n)
		}
	})

	t.Run("active ban lookup", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		expired := base.Add(-time.Hour)
		if err := s.CreateBan(ctx, &model.Ban{ID: 1, UserID: 3, StartsAt: base.Add(-2 * time.Hour), ExpiresAt: &expired}); err != nil {
			t.Fatal(err)
		}
		if ban, err := s.FindActiveBan(ctx, 3, base); err != nil || ban != nil {
			t.Fatalf("expired ban reported active: %+v, %v", ban, err)
		}

		if err := s.CreateBan(ctx, &model.Ban{ID: 2, UserID: 3, StartsAt: base, Reason: "spam"}); err != nil {
			t.Fatal(err)
		}
		ban, err := s.FindActiveBan(ctx, 3, base.Add(time.Minute))
		if err != nil || ban == nil || ban.ID != 2 {
			t.Fatalf("FindActiveBan = %+v, %v", ban, err)
		}

		lifted := base.Add(2 * time.Minute)
		ban.LiftedAt = &lifted
		if err := s.SaveBan(ctx, ban); err != nil {
			t.Fatal(err)
		}
		if ban, _ := s.FindActiveBan(ctx, 3, base.Add(3*time.Minute)); ban != nil {
			t.Errorf("lifted ban still active: %+v", ban)
		}
		if bans, _ := s.ListBans(ctx, 3); len(bans) != 2 {
			t.Errorf("ListBans = %d, want 2", len(bans))
		}
	})

	t.Run("cleanup filters", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		old := newComment(500, 0, 500, 0, 1, 0)
		old.Status = model.CommentStatusRemoved
		old.IsRemoved = true
		fresh := newComment(501, 0, 501, 0, 1, 0)
		fresh.Status = model.CommentStatusRemoved
		fresh.IsRemoved = true
		fresh.UpdatedAt = base.Add(48 * time.Hour)
		pending := newComment(503, 0, 503, 0, 1, 0)
		pending.Status = model.CommentStatusPending
		for _, c := range []*model.Comment{old, fresh, newComment(502, 0, 502, 0, 1, 0), pending,
			newComment(504, 0, 504, 0, 1, 0), newComment(505, 0, 505, 0, 1, 0)} {
			if err := s.CreateComment(ctx, c); err != nil {
				t.Fatal(err)
			}
		}
		spam := &model.Flag{ID: "c-1", CommentID: 504, UserID: 2, Category: model.FlagCategorySpam,
			ReviewState: model.FlagReviewUnreviewed, CreatedAt: base}
		other := &model.Flag{ID: "c-2", CommentID: 505, UserID: 2, Category: model.FlagCategoryOther,
			ReviewState: model.FlagReviewUnreviewed, CreatedAt: base}
		for _, f := range []*model.Flag{spam, other} {
			if _, err := s.RecordFlag(ctx, f); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.CreateRevision(ctx, &model.CommentRevision{ID: 1, CommentID: 500, Content: "v1", EditedBy: 1, CreatedAt: base}); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			name   string
			filter model.CleanupFilter
			want   []int64
		}{
			{"none", model.CleanupFilter{}, nil},
			{"removed before", model.CleanupFilter{RemovedBefore: base.Add(24 * time.Hour)}, []int64{500}},
			{"non public", model.CleanupFilter{NonPublic: true}, []int64{500, 501, 503}},
			{"spam", model.CleanupFilter{Spam: true}, []int64{504}},
			{"flagged", model.CleanupFilter{Flagged: true}, []int64{504, 505}},
			{"combined", model.CleanupFilter{RemovedBefore: base.Add(24 * time.Hour), Spam: true}, []int64{500, 504}},
		}
		for _, tt := range tests {
			found, err := s.FindForCleanup(ctx, tt.filter, 0, 10)
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if len(found) != len(tt.want) {
				t.Errorf("%s: found %d comments, want %v", tt.name, len(found), tt.want)
				continue
			}
			for i, c := range found {
				if c.ID != tt.want[i] {
					t.Errorf("%s: found[%d] = %d, want %d", tt.name, i, c.ID, tt.want[i])
				}
			}
		}

		page, _ := s.FindForCleanup(ctx, model.CleanupFilter{NonPublic: true}, 500, 1)
		if len(page) != 1 || page[0].ID != 501 {
			t.Errorf("keyset page = %v", page)
		}

		n, err := s.DeleteComments(ctx, []int64{500})
		if err != nil || n != 1 {
			t.Fatalf("DeleteComments = %d, %v", n, err)
		}
		if revs, _ := s.ListRevisions(ctx, 500); len(revs) != 0 {
			t.Errorf("revisions not purged: %d", len(revs))
		}
		if _, err := s.GetComment(ctx, 500); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("purged comment still readable: %v", err)
		}
	})

	t.Run("list sorting", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		// 创建顺序 1,2,3；更新顺序 2,3,1
		for i, upd := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
			c := newComment(int64(600+i), 0, int64(600+i), 0, 1, time.Duration(i)*time.Minute)
			c.UpdatedAt = base.Add(upd)
			if err := s.CreateComment(ctx, c); err != nil {
				t.Fatal(err)
			}
		}
		tests := []struct {
			sort string
			want []int64
		}{
			{"", []int64{600, 601, 602}},
			{model.SortCreatedAsc, []int64{600, 601, 602}},
			{model.SortCreatedDesc, []int64{602, 601, 600}},
			{model.SortUpdatedAsc, []int64{601, 602, 600}},
			{model.SortUpdatedDesc, []int64{600, 602, 601}},
		}
		for _, tt := range tests {
			got, _, err := s.ListComments(ctx, &model.ListCommentsParams{ObjectType: "article", ObjectID: 7, Sort: tt.sort})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("sort %q: got %d comments", tt.sort, len(got))
			}
			for i, c := range got {
				if c.ID != tt.want[i] {
					t.Errorf("sort %q: [%d] = %d, want %d", tt.sort, i, c.ID, tt.want[i])
				}
			}
		}
	})

	t.Run("moderation log", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for i, action := range []string{model.LogActionCreated, model.LogActionFlagged, model.LogActionAutoHidden} {
			err := s.AppendLog(ctx, &model.ModerationLog{
				ID: int64(i + 1), Action: action, SubjectType: model.SubjectComment,
				SubjectID: SubjectID(42), CreatedAt: base.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Fatal(err)
			}
		}
		logs, err := s.ListLogs(ctx, model.SubjectComment, SubjectID(42))
		if err != nil || len(logs) != 3 {
			t.Fatalf("ListLogs = %d, %v", len(logs), err)
		}
		if logs[2].Action != model.LogActionAutoHidden {
			t.Errorf("logs out of order: %s", logs[2].Action)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStorePagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := int64(1); i <= 5; i++ {
		c := newComment(i, 0, i, 0, 1, time.Duration(i)*time.Second)
		if i == 3 {
			c.Status = model.CommentStatusPending
		}
		if err := s.CreateComment(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		params    model.ListCommentsParams
		wantIDs   []int64
		wantTotal int64
	}{
		{"public only", model.ListCommentsParams{ObjectType: "article", ObjectID: 7, Page: 1, PageSize: 10}, []int64{1, 2, 4, 5}, 4},
		{"second page", model.ListCommentsParams{ObjectType: "article", ObjectID: 7, Page: 2, PageSize: 2}, []int64{4, 5}, 4},
		{"include hidden", model.ListCommentsParams{ObjectType: "article", ObjectID: 7, IncludeHidden: true, Page: 1, PageSize: 10}, []int64{1, 2, 3, 4, 5}, 5},
		{"other object", model.ListCommentsParams{ObjectType: "video", ObjectID: 7, Page: 1, PageSize: 10}, nil, 0},
		{"newest first", model.ListCommentsParams{ObjectType: "article", ObjectID: 7, Sort: model.SortCreatedDesc, Page: 1, PageSize: 10}, []int64{5, 4, 2, 1}, 4},
		{"newest first page 2", model.ListCommentsParams{ObjectType: "article", ObjectID: 7, Sort: model.SortCreatedDesc, Page: 2, PageSize: 2}, []int64{2, 1}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.params
			got, total, err := s.ListComments(ctx, &params)
			if err != nil {
				t.Fatal(err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d comments, want %d", len(got), len(tt.wantIDs))
			}
			for i, c := range got {
				if c.ID != tt.wantIDs[i] {
					t.Errorf("comment[%d] = %d, want %d", i, c.ID, tt.wantIDs[i])
				}
			}
		})
	}

	pending, total, _ := s.ListPending(ctx, 1, 10)
	if total != 1 || pending[0].ID != 3 {
		t.Errorf("ListPending = %v (total %d)", pending, total)
	}
}
