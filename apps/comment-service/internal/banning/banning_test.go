package banning

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"goim-comment/apps/comment-service/dao"
	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/clock"
)

type seqIDs struct{ n int64 }

func (s *seqIDs) Generate() int64 { return atomic.AddInt64(&s.n, 1) }

var start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newEngine(policy Policy) (*Engine, *dao.MemoryStore, *clock.Fake) {
	store := dao.NewMemoryStore()
	clk := clock.NewFake(start)
	return NewEngine(store, policy, NewMemoryLocker(), &seqIDs{}, clk), store, clk
}

func addComment(t *testing.T, store *dao.MemoryStore, id, userID int64, rejected bool) {
	t.Helper()
	c := &model.Comment{ID: id, RootID: id, UserID: userID, ObjectType: "article", ObjectID: 1,
		Status: model.CommentStatusPublic, IsRejected: rejected, CreatedAt: start}
	if rejected {
		c.Status = model.CommentStatusHidden
	}
	if err := store.CreateComment(context.Background(), c); err != nil {
		t.Fatal(err)
	}
}

func addSpamFlag(t *testing.T, store *dao.MemoryStore, id string, commentID, flagger int64) {
	t.Helper()
	c, err := store.GetComment(context.Background(), commentID)
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.RecordFlag(context.Background(), &model.Flag{ID: id, CommentID: commentID, CommentAuthorID: c.UserID,
		UserID: flagger, Category: model.FlagCategorySpam, ReviewState: model.FlagReviewUnreviewed, CreatedAt: start})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAutoBanAfterSpamFlags(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(Policy{AfterSpamFlags: model.IntPtr(2), DefaultDuration: 24 * time.Hour})

	addComment(t, store, 1, 7, false)
	addComment(t, store, 2, 7, false)

	addSpamFlag(t, store, "a", 1, 100)
	ban, err := e.Evaluate(ctx, 7, TriggerSpamFlag)
	if err != nil || ban != nil {
		t.Fatalf("after first spam flag: ban=%+v err=%v", ban, err)
	}

	addSpamFlag(t, store, "b", 2, 101)
	ban, err = e.Evaluate(ctx, 7, TriggerSpamFlag)
	if err != nil || ban == nil {
		t.Fatalf("after second spam flag: ban=%+v err=%v", ban, err)
	}
	if ban.BannedBy != model.SystemActorID || ban.Reason != "auto-ban: 2 spam flags" {
		t.Errorf("ban = %+v", ban)
	}
	if ban.ExpiresAt == nil || !ban.ExpiresAt.Equal(start.Add(24*time.Hour)) {
		t.Errorf("expires at %v", ban.ExpiresAt)
	}

	err = e.Check(ctx, 7)
	var banned *model.UserBannedError
	if !errors.As(err, &banned) || banned.Reason != ban.Reason {
		t.Fatalf("Check = %v, want UserBannedError", err)
	}
	if !strings.Contains(err.Error(), "banned until 2026-06-02T09:00:00Z") {
		t.Errorf("message = %q", err.Error())
	}

	// 已封禁时再次评估不重复签发
	addComment(t, store, 3, 7, false)
	addSpamFlag(t, store, "c", 3, 102)
	if again, _ := e.Evaluate(ctx, 7, TriggerSpamFlag); again != nil {
		t.Errorf("duplicate auto-ban issued: %+v", again)
	}

	if _, err := e.Unban(ctx, 7, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.Check(ctx, 7); err != nil {
		t.Errorf("Check after unban = %v", err)
	}
}

func TestAutoBanAfterRejections(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(Policy{AfterRejections: model.IntPtr(3)})

	for i := int64(1); i <= 3; i++ {
		addComment(t, store, i, 8, true)
		ban, err := e.Evaluate(ctx, 8, TriggerRejection)
		if err != nil {
			t.Fatal(err)
		}
		if (ban != nil) != (i == 3) {
			t.Errorf("after %d rejections: ban=%+v", i, ban)
		}
		if ban != nil {
			if !ban.IsPermanent() || ban.Reason != "auto-ban: 3 rejected comments" {
				t.Errorf("ban = %+v", ban)
			}
		}
	}
}

func TestEvaluateSkips(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(Policy{AfterRejections: model.IntPtr(1)})
	addComment(t, store, 1, 0, true)
	addComment(t, store, 2, 5, true)

	if ban, _ := e.Evaluate(ctx, 0, TriggerRejection); ban != nil {
		t.Error("anonymous user was banned")
	}
	if ban, _ := e.Evaluate(ctx, 5, TriggerSpamFlag); ban != nil {
		t.Error("disabled spam rule issued a ban")
	}
	if _, err := e.Evaluate(ctx, 5, Trigger(99)); err == nil {
		t.Error("unknown trigger accepted")
	}
}

func TestDismissedSpamFlagsDoNotCount(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(Policy{AfterSpamFlags: model.IntPtr(1)})
	addComment(t, store, 1, 9, false)
	addSpamFlag(t, store, "x", 1, 100)

	f, _ := store.GetFlag(ctx, "x")
	f.ReviewState = model.FlagReviewDismissed
	if err := store.SaveFlag(ctx, f); err != nil {
		t.Fatal(err)
	}
	if ban, _ := e.Evaluate(ctx, 9, TriggerSpamFlag); ban != nil {
		t.Errorf("dismissed flag triggered ban %+v", ban)
	}
}

func TestManualBanUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	e, store, clk := newEngine(Policy{})

	first, err := e.Ban(ctx, 4, "spamming", nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Hour)
	until := clk.Now().Add(48 * time.Hour)
	second, err := e.Ban(ctx, 4, "harassment", &until, 2)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.Reason != "harassment" || second.BannedBy != 2 {
		t.Errorf("ban not updated in place: %+v", second)
	}
	bans, _ := store.ListBans(ctx, 4)
	if len(bans) != 1 {
		t.Errorf("ban records = %d, want 1", len(bans))
	}

	past := clk.Now().Add(-time.Minute)
	if _, err := e.Ban(ctx, 4, "x", &past, 1); !errors.Is(err, model.ErrValidation) {
		t.Errorf("past expiry error = %v", err)
	}
	if _, err := e.Ban(ctx, 0, "x", nil, 1); !errors.Is(err, model.ErrValidation) {
		t.Errorf("anonymous ban error = %v", err)
	}
}

func TestUnbanIdempotent(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(Policy{})

	if ban, err := e.Unban(ctx, 11, 1); err != nil || ban != nil {
		t.Errorf("unban of unbanned user = %+v, %v", ban, err)
	}
	if _, err := e.Ban(ctx, 11, "r", nil, 1); err != nil {
		t.Fatal(err)
	}
	lifted, err := e.Unban(ctx, 11, 3)
	if err != nil || lifted == nil || lifted.LiftedAt == nil || lifted.LiftedBy != 3 {
		t.Fatalf("Unban = %+v, %v", lifted, err)
	}
	if ban, err := e.Unban(ctx, 11, 3); err != nil || ban != nil {
		t.Errorf("second unban = %+v, %v", ban, err)
	}
	bans, _ := store.ListBans(ctx, 11)
	if len(bans) != 1 {
		t.Errorf("unban deleted or duplicated records: %d", len(bans))
	}
}

func TestBanExpires(t *testing.T) {
	ctx := context.Background()
	e, _, clk := newEngine(Policy{})
	until := start.Add(time.Hour)
	if _, err := e.Ban(ctx, 12, "cool off", &until, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.Check(ctx, 12); !errors.Is(err, model.ErrUserBanned) {
		t.Fatalf("Check = %v", err)
	}
	clk.Advance(time.Hour)
	if err := e.Check(ctx, 12); err != nil {
		t.Errorf("Check after expiry = %v", err)
	}
}

func TestConcurrentEvaluateIssuesOneBan(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newEngine(Policy{AfterRejections: model.IntPtr(1)})
	addComment(t, store, 1, 13, true)

	var (
		wg     sync.WaitGroup
		issued int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ban, err := e.Evaluate(ctx, 13, TriggerRejection)
			if err != nil {
				t.Error(err)
			}
			if ban != nil {
				atomic.AddInt32(&issued, 1)
			}
		}()
	}
	wg.Wait()
	if issued != 1 {
		t.Errorf("issued %d bans, want 1", issued)
	}
}
