// Package matchmaking implements the rating-ordered waiting queue and its
// expanding-range candidate search.
package matchmaking

import (
	"context"
	"sort"
	"time"

	"codeduel/internal/state"
)

// Config tunes the expanding search window.
type Config struct {
	BaseRange    int           `yaml:"baseRange"`
	RangeStep    int           `yaml:"rangeStep"`
	StepInterval time.Duration `yaml:"stepInterval"`
	MaxRange     int           `yaml:"maxRange"`

	// SecondsPerQueued is the wait estimate contributed by every queued player.
	SecondsPerQueued int `yaml:"secondsPerQueued"`
}

func DefaultConfig() Config {
	return Config{
		BaseRange:        200,
		RangeStep:        50,
		StepInterval:     10 * time.Second,
		MaxRange:         500,
		SecondsPerQueued: 10,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.BaseRange <= 0 {
		c.BaseRange = def.BaseRange
	}
	if c.RangeStep < 0 {
		c.RangeStep = def.RangeStep
	}
	if c.StepInterval <= 0 {
		c.StepInterval = def.StepInterval
	}
	if c.MaxRange < c.BaseRange {
		c.MaxRange = max(def.MaxRange, c.BaseRange)
	}
	if c.SecondsPerQueued <= 0 {
		c.SecondsPerQueued = def.SecondsPerQueued
	}
}

// Entry is a queued player.
type Entry struct {
	PlayerID string
	Rating   int
	JoinedAt time.Time
}

// Queue is the matchmaking queue backed by the shared state store.
type Queue struct {
	store *state.Store
	cfg   Config
	now   func() time.Time
}

func NewQueue(store *state.Store, cfg Config) *Queue {
	cfg.setDefaults()
	return &Queue{store: store, cfg: cfg, now: time.Now}
}

// Join queues playerID. A player already queued keeps the original entry.
func (q *Queue) Join(ctx context.Context, playerID string, rating int) (Entry, error) {
	existing, found, err := q.store.QueueMemberOf(ctx, playerID)
	if err != nil {
		return Entry{}, err
	}
	if found {
		return fromMember(existing), nil
	}
	entry := Entry{PlayerID: playerID, Rating: rating, JoinedAt: q.now()}
	if err := q.Rejoin(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Rejoin inserts entry exactly as given, keeping its rating and join time.
func (q *Queue) Rejoin(ctx context.Context, entry Entry) error {
	return q.store.Enqueue(ctx, state.QueueMember{
		PlayerID: entry.PlayerID,
		Rating:   entry.Rating,
		JoinedAt: entry.JoinedAt,
	})
}

func (q *Queue) Leave(ctx context.Context, playerID string) error {
	return q.store.Dequeue(ctx, playerID)
}

func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.store.QueueSize(ctx)
}

// Position returns the 1-based queue position, or -1 when not queued.
func (q *Queue) Position(ctx context.Context, playerID string) (int64, error) {
	rank, err := q.store.QueueRank(ctx, playerID)
	if err != nil {
		return -1, err
	}
	if rank < 0 {
		return -1, nil
	}
	return rank + 1, nil
}

// EstimatedWait returns the lobby wait estimate in seconds.
func (q *Queue) EstimatedWait(size int64) int64 {
	return size * int64(q.cfg.SecondsPerQueued)
}

// Range returns the rating window for a player who has waited for wait.
func (q *Queue) Range(wait time.Duration) int {
	if wait < 0 {
		wait = 0
	}
	steps := int(wait / q.cfg.StepInterval)
	return min(q.cfg.BaseRange+q.cfg.RangeStep*steps, q.cfg.MaxRange)
}

// Entries lists all queued players in store rank order.
func (q *Queue) Entries(ctx context.Context) ([]Entry, error) {
	members, err := q.store.QueueMembers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(members))
	for _, m := range members {
		out = append(out, fromMember(m))
	}
	return out, nil
}

// Entry returns the queued entry of playerID.
func (q *Queue) Entry(ctx context.Context, playerID string) (Entry, bool, error) {
	m, found, err := q.store.QueueMemberOf(ctx, playerID)
	if err != nil || !found {
		return Entry{}, found, err
	}
	return fromMember(m), true, nil
}

// FindCandidate returns the best opponent in [rating-rng, rating+rng], never
// playerID itself. Earliest join time wins, then store rank order.
func (q *Queue) FindCandidate(ctx context.Context, playerID string, rating, rng int) (*Entry, error) {
	members, err := q.store.QueueMembersInRange(ctx, rating-rng, rating+rng)
	if err != nil {
		return nil, err
	}
	candidates := make([]Entry, 0, len(members))
	for _, m := range members {
		if m.PlayerID == playerID {
			continue
		}
		candidates = append(candidates, fromMember(m))
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
	})
	best := candidates[0]
	return &best, nil
}

// FindCandidateWithExpandingRange searches with the window widened by the
// player's recorded wait time. It returns nil when playerID is not queued.
func (q *Queue) FindCandidateWithExpandingRange(ctx context.Context, playerID string) (*Entry, error) {
	self, found, err := q.Entry(ctx, playerID)
	if err != nil || !found {
		return nil, err
	}
	return q.FindCandidate(ctx, playerID, self.Rating, q.Range(q.now().Sub(self.JoinedAt)))
}

// RemovePair atomically removes both players; false means one was already gone.
func (q *Queue) RemovePair(ctx context.Context, a, b string) (bool, error) {
	return q.store.RemovePair(ctx, a, b)
}

func fromMember(m state.QueueMember) Entry {
	return Entry{PlayerID: m.PlayerID, Rating: m.Rating, JoinedAt: m.JoinedAt}
}
