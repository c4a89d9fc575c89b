package cache

import (
	"context"
	"time"
)

// Cache is the key/value, ranked-set and set abstraction backing the shared ephemeral state.
// Every method is a single atomic command on the backing store unless noted.
type Cache interface {
	BasicOps
	HashOps
	SetOps
	ZSetOps
	ListOps
	ScriptOps
	PipelineOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" without error when the key is missing.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist and reports whether it was set.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// HashOps defines hash (map) operations
type HashOps interface {
	HSet(ctx context.Context, key, field string, value interface{}) error

	// HGet returns "" without error when the key or field is missing.
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HMSet(ctx context.Context, key string, fields map[string]interface{}) error

	// HMGet returns one entry per field, "" for missing fields.
	HMGet(ctx context.Context, key string, fields ...string) ([]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
}

// SetOps defines set operations
type SetOps interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
}

// ZSetOps defines sorted set operations
type ZSetOps interface {
	ZAdd(ctx context.Context, key string, members ...ZMember) error

	// ZRem returns the number of members actually removed.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)

	// ZScore reports found=false when the member is absent.
	ZScore(ctx context.Context, key, member string) (score float64, found bool, err error)

	// ZRangeWithScores returns members with scores by index range in ascending order.
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZRangeByScoreWithScores returns members whose score lies in [min, max], ascending.
	ZRangeByScoreWithScores(ctx context.Context, key string, min, max float64) ([]ZMember, error)

	// ZRank returns the 0-based ascending rank, or -1 when the member is absent.
	ZRank(ctx context.Context, key, member string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
}

// ListOps defines list operations
type ListOps interface {
	LPush(ctx context.Context, key string, values ...interface{}) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// ScriptOps runs server side scripts, used where several keys must change atomically.
type ScriptOps interface {
	RunScript(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error)
}

// PipelineOps defines pipeline operations for batching commands
type PipelineOps interface {
	// Pipeline queues the commands issued by fn and sends them in one round trip.
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner defines the commands available inside a pipeline
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Del(keys ...string) error
	Expire(key string, ttl time.Duration) error
	HMSet(key string, fields map[string]interface{}) error
	HDel(key string, fields ...string) error
	ZAdd(key string, members ...ZMember) error
	ZRem(key string, members ...string) error
	SAdd(key string, members ...interface{}) error
	SRem(key string, members ...interface{}) error
	LPush(key string, values ...interface{}) error
	LTrim(key string, start, stop int64) error
}

// ZMember represents a member in a sorted set with its score
type ZMember struct {
	Score  float64
	Member string
}
