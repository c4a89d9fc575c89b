package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/zeromicro/go-zero/core/stores/redis"
)

func TestTokenLimiterCapsAdmissions(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redis.MustNewRedis(redis.RedisConf{Host: mr.Addr(), Type: redis.NodeType})
	l := NewTokenLimiter(store, "execution:fetch", 1, 3)

	admitted := 0
	for range 10 {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if l.Acquire(ctx) == nil {
			admitted++
		}
		cancel()
		l.Release()
	}
	if admitted < 3 || admitted > 4 {
		t.Fatalf("expected the burst of 3 plus at most one refill, got %d", admitted)
	}
}

func TestTokenLimiterHonorsCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redis.MustNewRedis(redis.RedisConf{Host: mr.Addr(), Type: redis.NodeType})
	l := NewTokenLimiter(store, "execution:fetch", 10, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected a canceled context to stop acquisition")
	}
}
