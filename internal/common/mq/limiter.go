package mq

import "context"

// FetchLimiter gates how fast a consumer takes messages off a topic.
type FetchLimiter interface {
	// Acquire blocks until the next fetch is admitted or ctx is canceled.
	Acquire(ctx context.Context) error

	// Release is called once the fetched message has been handled.
	Release()
}

func acquire(ctx context.Context, l FetchLimiter) error {
	if l == nil {
		return nil
	}
	return l.Acquire(ctx)
}

func release(l FetchLimiter) {
	if l != nil {
		l.Release()
	}
}
