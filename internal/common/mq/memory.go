package mq

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryQueue is an in-process MessageQueue for single node runs and tests.
// Messages do not survive a restart.
type MemoryQueue struct {
	buffer int

	mu            sync.Mutex
	topics        map[string]chan *Message
	subscriptions []*memorySubscription
	started       bool
	closed        bool
}

type memorySubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryQueue creates a queue whose topics buffer up to buffer messages.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{buffer: buffer, topics: make(map[string]chan *Message)}
}

func (q *MemoryQueue) topic(name string) chan *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan *Message, q.buffer)
		q.topics[name] = ch
	}
	return ch
}

// Publish enqueues the message, blocking while the topic buffer is full.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("message queue is closed")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	select {
	case q.topic(topic) <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults(topic)
	sub := &memorySubscription{topic: topic, handler: handler, opts: options, baseCtx: ctx}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("message queue is closed")
	}
	q.subscriptions = append(q.subscriptions, sub)
	started := q.started
	q.mu.Unlock()
	if started {
		q.startSubscription(sub)
	}
	return nil
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("message queue is closed")
	}
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	subs := append([]*memorySubscription(nil), q.subscriptions...)
	q.mu.Unlock()

	for _, sub := range subs {
		q.startSubscription(sub)
	}
	return nil
}

func (q *MemoryQueue) Stop() error {
	q.mu.Lock()
	subs := append([]*memorySubscription(nil), q.subscriptions...)
	q.started = false
	q.mu.Unlock()

	for _, sub := range subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range subs {
		sub.wg.Wait()
	}
	return nil
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Stop()
}

func (q *MemoryQueue) startSubscription(sub *memorySubscription) {
	base := sub.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	sub.cancel = cancel
	ch := q.topic(sub.topic)

	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for {
				if err := acquire(ctx, sub.opts.Limiter); err != nil {
					return
				}
				select {
				case <-ctx.Done():
					release(sub.opts.Limiter)
					return
				case m := <-ch:
					if deliver(ctx, sub.handler, m, sub.opts) && sub.opts.DeadLetterTopic != "" {
						_ = q.Publish(ctx, sub.opts.DeadLetterTopic, m)
					}
					release(sub.opts.Limiter)
				}
			}
		}()
	}
}

var _ MessageQueue = (*MemoryQueue)(nil)
