package matchmaking

import (
	"context"
	"testing"
	"time"

	"codeduel/internal/common/cache"
	"codeduel/internal/state"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	return NewQueue(state.NewStore(c), DefaultConfig())
}

func TestRangeExpandsAndClamps(t *testing.T) {
	q := NewQueue(nil, DefaultConfig())
	cases := []struct {
		wait time.Duration
		want int
	}{
		{0, 200},
		{9 * time.Second, 200},
		{10 * time.Second, 250},
		{35 * time.Second, 350},
		{95 * time.Second, 500},
		{time.Hour, 500},
		{-time.Second, 200},
	}
	for _, tc := range cases {
		if got := q.Range(tc.wait); got != tc.want {
			t.Fatalf("Range(%v) = %d, want %d", tc.wait, got, tc.want)
		}
	}
}

func TestFindCandidateExcludesSelf(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	if _, err := q.Join(ctx, "a", 1200); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	got, err := q.FindCandidate(ctx, "a", 1200, 500)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got != nil {
		t.Fatalf("a lone player must not match itself, got %+v", got)
	}
}

func TestFindCandidateRespectsRange(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	_, _ = q.Join(ctx, "a", 1200)
	_, _ = q.Join(ctx, "far", 1500)

	got, _ := q.FindCandidate(ctx, "a", 1200, 200)
	if got != nil {
		t.Fatalf("1500 is outside 1200±200, got %+v", got)
	}
	got, _ = q.FindCandidate(ctx, "a", 1200, 300)
	if got == nil || got.PlayerID != "far" {
		t.Fatalf("1500 is inside 1200±300, got %+v", got)
	}
}

func TestFindCandidatePrefersEarliestJoin(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	_ = q.Rejoin(ctx, Entry{PlayerID: "self", Rating: 1200, JoinedAt: base.Add(30 * time.Second)})
	_ = q.Rejoin(ctx, Entry{PlayerID: "close-late", Rating: 1201, JoinedAt: base.Add(20 * time.Second)})
	_ = q.Rejoin(ctx, Entry{PlayerID: "far-early", Rating: 1350, JoinedAt: base})

	got, err := q.FindCandidate(ctx, "self", 1200, 200)
	if err != nil || got == nil {
		t.Fatalf("expected a candidate, err=%v", err)
	}
	if got.PlayerID != "far-early" {
		t.Fatalf("earliest joiner must win, got %s", got.PlayerID)
	}
}

func TestFindCandidateWithExpandingRange(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()
	q.now = func() time.Time { return now }

	_ = q.Rejoin(ctx, Entry{PlayerID: "waiting", Rating: 1000, JoinedAt: now.Add(-95 * time.Second)})
	_ = q.Rejoin(ctx, Entry{PlayerID: "strong", Rating: 1450, JoinedAt: now})

	got, err := q.FindCandidateWithExpandingRange(ctx, "waiting")
	if err != nil || got == nil || got.PlayerID != "strong" {
		t.Fatalf("widened range must reach 1450, got %+v err=%v", got, err)
	}
	got, _ = q.FindCandidateWithExpandingRange(ctx, "strong")
	if got != nil {
		t.Fatalf("fresh entry searches only ±200, got %+v", got)
	}
	got, _ = q.FindCandidateWithExpandingRange(ctx, "absent")
	if got != nil {
		t.Fatalf("absent player has no candidate, got %+v", got)
	}
}

func TestJoinKeepsOriginalEntry(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	first, _ := q.Join(ctx, "a", 1200)
	second, err := q.Join(ctx, "a", 1800)
	if err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	if second.Rating != 1200 || !second.JoinedAt.Equal(first.JoinedAt.Truncate(time.Millisecond)) {
		t.Fatalf("second join must keep the first entry, got %+v", second)
	}
}

func TestPositionAndEstimatedWait(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	_, _ = q.Join(ctx, "low", 900)
	_, _ = q.Join(ctx, "high", 1500)

	if pos, _ := q.Position(ctx, "high"); pos != 2 {
		t.Fatalf("expected position 2, got %d", pos)
	}
	if pos, _ := q.Position(ctx, "nobody"); pos != -1 {
		t.Fatalf("expected -1, got %d", pos)
	}
	size, _ := q.Size(ctx)
	if q.EstimatedWait(size) != 20 {
		t.Fatalf("expected 20 seconds, got %d", q.EstimatedWait(size))
	}
}

func TestRemovePairAfterLeave(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	_, _ = q.Join(ctx, "a", 1200)
	_, _ = q.Join(ctx, "b", 1200)
	_ = q.Leave(ctx, "b")

	ok, err := q.RemovePair(ctx, "a", "b")
	if err != nil || ok {
		t.Fatalf("pair removal must fail once b left, ok=%v err=%v", ok, err)
	}
	if pos, _ := q.Position(ctx, "a"); pos != 1 {
		t.Fatalf("a must still be queued, position=%d", pos)
	}
}
