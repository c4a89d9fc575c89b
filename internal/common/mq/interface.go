package mq

import (
	"context"
	"time"
)

// MessageQueue is a durable topic queue with competing consumers.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the message queue connection is alive
	Ping(ctx context.Context) error

	// Close stops consumers and releases connections
	Close() error
}

// Producer defines the interface for publishing messages
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer defines the interface for consuming messages
type Consumer interface {
	// Subscribe registers handler for topic. Consumption begins on Start,
	// or immediately when the queue is already started.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	Start() error

	// Stop cancels consumption and waits for in-flight handlers.
	Stop() error
}

// Message represents a message in the queue
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	// RetryCount is the number of failed deliveries so far.
	RetryCount int `json:"retry_count"`
}

// HandlerFunc processes one message. A non-nil error counts as a failed delivery.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup shares the topic between instances. Default: "codeduel-<topic>".
	ConsumerGroup string

	// Concurrency sets the number of concurrent handlers. Default: 1.
	Concurrency int

	// MaxRetries is the number of redeliveries after a failure. Default: 0, no retry.
	MaxRetries int

	// RetryDelay sets the delay between retries. Default: 1 second.
	RetryDelay time.Duration

	// DeadLetterTopic receives messages that exhausted their deliveries.
	DeadLetterTopic string

	// Limiter gates every fetch; nil means unlimited.
	Limiter FetchLimiter

	// Abandoned receives messages whose consumer stopped before acknowledging
	// them. They are never passed to the handler again. Only queues that track
	// unacknowledged deliveries call it.
	Abandoned HandlerFunc
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults(topic string) {
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = "codeduel-" + topic
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given id and body
func NewMessage(id string, body []byte) *Message {
	return &Message{
		ID:        id,
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// deliver runs handler with the configured retry budget and reports whether
// the message should go to the dead letter topic.
func deliver(ctx context.Context, handler HandlerFunc, m *Message, opts SubscribeOptions) bool {
	for {
		if err := handler(ctx, m); err == nil {
			return false
		}
		m.RetryCount++
		if m.RetryCount > opts.MaxRetries {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(opts.RetryDelay):
		}
	}
}
