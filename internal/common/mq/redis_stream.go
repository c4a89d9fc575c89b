package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStreamConfig configures the Redis Streams queue.
type RedisStreamConfig struct {
	// Block is how long one XREADGROUP waits for new entries. Default: 2s.
	Block time.Duration `yaml:"block"`

	// MaxLen approximately caps each stream. Default: 10000.
	MaxLen int64 `yaml:"maxLen"`

	// Consumer names this instance within the group. Default: random.
	Consumer string `yaml:"consumer"`

	// ClaimIdle is how long a delivered entry may stay unacknowledged before
	// its consumer is considered gone. Default: 10m.
	ClaimIdle time.Duration `yaml:"claimIdle"`

	// ClaimInterval is the period of the abandoned entry scan. Default: 1m.
	ClaimInterval time.Duration `yaml:"claimInterval"`
}

// RedisStreamQueue implements MessageQueue on Redis Streams consumer groups.
type RedisStreamQueue struct {
	client *redis.Client
	config RedisStreamConfig

	mu            sync.Mutex
	subscriptions []*streamSubscription
	started       bool
	closed        bool
}

type streamSubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisStreamQueue creates a queue on an existing go-redis client.
func NewRedisStreamQueue(client *redis.Client, cfg RedisStreamConfig) (*RedisStreamQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-" + uuid.NewString()
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 10 * time.Minute
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = time.Minute
	}
	return &RedisStreamQueue{client: client, config: cfg}, nil
}

// Publish appends the message to the topic stream.
func (q *RedisStreamQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers, err := json.Marshal(message.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers failed: %w", err)
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: q.config.MaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"id":      message.ID,
			"body":    message.Body,
			"ts":      message.Timestamp.UnixMilli(),
			"headers": headers,
			"retry":   message.RetryCount,
		},
	}).Err()
}

// Subscribe registers handler for topic.
func (q *RedisStreamQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
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
	sub := &streamSubscription{topic: topic, handler: handler, opts: options, baseCtx: ctx}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	q.subscriptions = append(q.subscriptions, sub)
	if q.started {
		return q.startSubscription(sub)
	}
	return nil
}

// Start creates the consumer groups and begins reading.
func (q *RedisStreamQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	if q.started {
		return nil
	}
	for _, sub := range q.subscriptions {
		if err := q.startSubscription(sub); err != nil {
			return err
		}
	}
	q.started = true
	return nil
}

// Stop cancels readers and waits for in-flight handlers.
func (q *RedisStreamQueue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sub := range q.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range q.subscriptions {
		sub.wg.Wait()
	}
	q.started = false
	return nil
}

func (q *RedisStreamQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close stops consumers. The shared client is owned by the caller.
func (q *RedisStreamQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.Stop()
}

func (q *RedisStreamQueue) startSubscription(sub *streamSubscription) error {
	base := sub.baseCtx
	if base == nil {
		base = context.Background()
	}
	err := q.client.XGroupCreateMkStream(base, sub.topic, sub.opts.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group failed: %w", err)
	}

	ctx, cancel := context.WithCancel(base)
	sub.cancel = cancel
	msgCh := make(chan redis.XMessage, sub.opts.Concurrency)

	q.reclaim(ctx, sub)
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		ticker := time.NewTicker(q.config.ClaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.reclaim(ctx, sub)
			}
		}
	}()

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(msgCh)
		for {
			if err := acquire(ctx, sub.opts.Limiter); err != nil {
				return
			}
			streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    sub.opts.ConsumerGroup,
				Consumer: q.config.Consumer,
				Streams:  []string{sub.topic, ">"},
				Count:    1,
				Block:    q.config.Block,
			}).Result()
			if err != nil || len(streams) == 0 || len(streams[0].Messages) == 0 {
				release(sub.opts.Limiter)
				if ctx.Err() != nil {
					return
				}
				if err != nil && !errors.Is(err, redis.Nil) {
					time.Sleep(100 * time.Millisecond)
				}
				continue
			}
			select {
			case msgCh <- streams[0].Messages[0]:
			case <-ctx.Done():
				release(sub.opts.Limiter)
				return
			}
		}
	}()

	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for msg := range msgCh {
				q.handleMessage(ctx, sub, msg)
			}
		}()
	}
	return nil
}

func (q *RedisStreamQueue) handleMessage(ctx context.Context, sub *streamSubscription, msg redis.XMessage) {
	defer release(sub.opts.Limiter)
	m := fromStreamValues(msg.Values)
	if deliver(ctx, sub.handler, m, sub.opts) && sub.opts.DeadLetterTopic != "" {
		_ = q.Publish(ctx, sub.opts.DeadLetterTopic, m)
	}
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = q.client.XAck(ackCtx, sub.topic, sub.opts.ConsumerGroup, msg.ID).Err()
}

// reclaim takes over entries left pending longer than ClaimIdle and hands
// them to the Abandoned hook, then acknowledges them.
func (q *RedisStreamQueue) reclaim(ctx context.Context, sub *streamSubscription) {
	start := "0-0"
	for {
		msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   sub.topic,
			Group:    sub.opts.ConsumerGroup,
			Consumer: q.config.Consumer,
			MinIdle:  q.config.ClaimIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			return
		}
		for _, msg := range msgs {
			q.abandon(ctx, sub, msg)
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

func (q *RedisStreamQueue) abandon(ctx context.Context, sub *streamSubscription, msg redis.XMessage) {
	m := fromStreamValues(msg.Values)
	switch {
	case sub.opts.Abandoned != nil:
		_ = sub.opts.Abandoned(ctx, m)
	case sub.opts.DeadLetterTopic != "":
		_ = q.Publish(ctx, sub.opts.DeadLetterTopic, m)
	}
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = q.client.XAck(ackCtx, sub.topic, sub.opts.ConsumerGroup, msg.ID).Err()
}

func fromStreamValues(values map[string]interface{}) *Message {
	getStr := func(k string) string {
		if v, ok := values[k].(string); ok {
			return v
		}
		return ""
	}
	m := &Message{
		ID:      getStr("id"),
		Body:    []byte(getStr("body")),
		Headers: make(map[string]string),
	}
	if ms, err := strconv.ParseInt(getStr("ts"), 10, 64); err == nil {
		m.Timestamp = time.UnixMilli(ms)
	}
	if retry, err := strconv.Atoi(getStr("retry")); err == nil {
		m.RetryCount = retry
	}
	if raw := getStr("headers"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &m.Headers)
	}
	return m
}

var _ MessageQueue = (*RedisStreamQueue)(nil)
