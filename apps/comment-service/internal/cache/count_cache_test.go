package cache

import (
	"context"
	"testing"
	"time"

	"goim-comment/pkg/clock"
)

type countingSource struct {
	value int64
	calls int
}

func (s *countingSource) CountPublicComments(context.Context, string, int64) (int64, error) {
	s.calls++
	return s.value, nil
}

func TestCountCache(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{value: 3}
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c, err := NewCountCache(src, 16, time.Minute, clk)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if n, _ := c.Count(ctx, "article", 1); n != 3 {
			t.Fatalf("Count = %d", n)
		}
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}

	src.value = 4
	c.Invalidate("article", 1)
	if n, _ := c.Count(ctx, "article", 1); n != 4 || src.calls != 2 {
		t.Errorf("after invalidate: n=%d calls=%d", n, src.calls)
	}

	src.value = 5
	clk.Advance(time.Minute)
	if n, _ := c.Count(ctx, "article", 1); n != 5 || src.calls != 3 {
		t.Errorf("after expiry: n=%d calls=%d", n, src.calls)
	}

	if _, err := c.Count(ctx, "article", 2); err != nil || src.calls != 4 {
		t.Errorf("separate key shared entry: calls=%d", src.calls)
	}
}

func TestCountCacheDisabled(t *testing.T) {
	src := &countingSource{value: 1}
	c, err := NewCountCache(src, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_, _ = c.Count(context.Background(), "post", 1)
	}
	if src.calls != 3 {
		t.Errorf("disabled cache served from memory: calls=%d", src.calls)
	}
}
