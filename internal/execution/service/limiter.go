package service

import (
	"context"
	"time"

	"codeduel/internal/common/mq"

	"github.com/zeromicro/go-zero/core/limit"
	"github.com/zeromicro/go-zero/core/stores/redis"
)

// TokenLimiter admits queue fetches through a token bucket shared by every
// server instance. When Redis is unreachable go-zero falls back to a local bucket.
type TokenLimiter struct {
	limiter *limit.TokenLimiter
	wait    time.Duration
}

// NewTokenLimiter allows rate fetches per second with the given burst.
func NewTokenLimiter(store *redis.Redis, key string, rate, burst int) *TokenLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst < rate {
		burst = rate
	}
	return &TokenLimiter{
		limiter: limit.NewTokenLimiter(rate, burst, store, key),
		wait:    time.Second / time.Duration(rate),
	}
}

func (l *TokenLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.limiter.AllowCtx(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.wait):
		}
	}
}

// Release is a no-op: tokens refill with time, not on completion.
func (l *TokenLimiter) Release() {}

var _ mq.FetchLimiter = (*TokenLimiter)(nil)
