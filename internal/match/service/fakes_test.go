package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"codeduel/internal/common/cache"
	"codeduel/internal/common/db"
	"codeduel/internal/match/model"
	"codeduel/internal/match/repository"
	"codeduel/internal/matchmaking"
	"codeduel/internal/state"
	pkgrepo "codeduel/pkg/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeDB runs transactions without a real connection. The repositories
// below keep their data in memory and ignore the transaction handle.
type fakeDB struct {
	mu sync.Mutex
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return nil
}

func (f *fakeDB) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errors.New("not supported")
}

func (f *fakeDB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errors.New("not supported")
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(fakeTx{})
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error { return nil }
func (f *fakeDB) Driver() string { return "fake" }

type fakeTx struct{ db.Querier }

func (fakeTx) Commit() error { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeMatches struct {
	mu        sync.Mutex
	rows      map[string]*model.Match
	createErr error
}

func newFakeMatches() *fakeMatches {
	return &fakeMatches{rows: make(map[string]*model.Match)}
}

func (f *fakeMatches) Create(ctx context.Context, tx db.Transaction, match *model.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *match
	f.rows[match.ID] = &cp
	return nil
}

func (f *fakeMatches) GetByID(ctx context.Context, tx db.Transaction, matchID string) (*model.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[matchID]
	if !ok {
		return nil, pkgrepo.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMatches) Finish(ctx context.Context, tx db.Transaction, matchID string, t repository.Terminal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[matchID]
	if !ok || m.Status != model.MatchStatusInProgress {
		return pkgrepo.ErrConflict
	}
	reason := t.Reason
	endedAt := t.EndedAt
	m.Status = t.Status
	m.WinnerID = t.WinnerID
	m.EndReason = &reason
	m.EndedAt = &endedAt
	return nil
}

func (f *fakeMatches) FindActiveByPlayer(ctx context.Context, playerID string) (*model.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.Match
	for _, m := range f.rows {
		if m.Status != model.MatchStatusInProgress || !m.HasPlayer(playerID) {
			continue
		}
		if best == nil || m.StartedAt.After(*best.StartedAt) {
			best = m
		}
	}
	if best == nil {
		return nil, pkgrepo.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeMatches) ListCompletedByPlayer(ctx context.Context, playerID string, opts pkgrepo.PageOptions) ([]model.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Match
	for _, m := range f.rows {
		if m.Status == model.MatchStatusCompleted && m.HasPlayer(playerID) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(*out[j].EndedAt) })
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type fakePlayers struct {
	mu      sync.Mutex
	rows    map[string]*model.Player
	updates int
}

func newFakePlayers(players ...model.Player) *fakePlayers {
	f := &fakePlayers{rows: make(map[string]*model.Player)}
	for i := range players {
		p := players[i]
		f.rows[p.ID] = &p
	}
	return f
}

func (f *fakePlayers) GetByID(ctx context.Context, tx db.Transaction, playerID string) (*model.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[playerID]
	if !ok {
		return nil, pkgrepo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePlayers) GetForUpdate(ctx context.Context, tx db.Transaction, ids ...string) (map[string]*model.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*model.Player, len(ids))
	for _, id := range ids {
		p, ok := f.rows[id]
		if !ok {
			return nil, pkgrepo.ErrNotFound
		}
		cp := *p
		out[id] = &cp
	}
	return out, nil
}

func (f *fakePlayers) UpdateRating(ctx context.Context, tx db.Transaction, playerID string, rating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[playerID]
	if !ok {
		return pkgrepo.ErrNotFound
	}
	p.Rating = rating
	f.updates++
	return nil
}

func (f *fakePlayers) rating(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Rating
}

type fakeProblems struct {
	rows map[string]*model.Problem
}

func (f *fakeProblems) GetByID(ctx context.Context, problemID string) (*model.Problem, error) {
	p, ok := f.rows[problemID]
	if !ok {
		return nil, pkgrepo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProblems) ListIDs(ctx context.Context, difficulty model.Difficulty) ([]string, error) {
	var ids []string
	for id, p := range f.rows {
		if difficulty == "" || p.Difficulty == difficulty {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type fixture struct {
	manager  *Manager
	matches  *fakeMatches
	players  *fakePlayers
	problems *fakeProblems
	store    *state.Store
	queue    *matchmaking.Queue
	mr       *miniredis.Miniredis
	now      time.Time
}

func sampleProblem() *model.Problem {
	return &model.Problem{
		ID:         "prob-1",
		Title:      "Add Two Numbers",
		Difficulty: model.DifficultyEasy,
		TestCases: model.TestCases{
			{Input: "1 2", ExpectedOutput: "3"},
			{Input: "2 3", ExpectedOutput: "5"},
			{Input: "10 20", ExpectedOutput: "30", IsHidden: true},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	store := state.NewStore(c)
	queue := matchmaking.NewQueue(store, matchmaking.DefaultConfig())

	f := &fixture{
		matches: newFakeMatches(),
		players: newFakePlayers(
			model.Player{ID: "alice", Username: "alice", Rating: 1200},
			model.Player{ID: "bob", Username: "bob", Rating: 1000},
			model.Player{ID: "carol", Username: "carol", Rating: 1210},
		),
		problems: &fakeProblems{rows: map[string]*model.Problem{"prob-1": sampleProblem()}},
		store:    store,
		queue:    queue,
		mr:       mr,
		now:      time.Now(),
	}
	f.manager = NewManager(Deps{
		DB:       &fakeDB{},
		Matches:  f.matches,
		Players:  f.players,
		Problems: f.problems,
		Store:    store,
		Queue:    queue,
	}, DefaultConfig())
	f.manager.now = func() time.Time { return f.now }
	ids := 0
	f.manager.newID = func() string {
		ids++
		return "match-" + string(rune('0'+ids))
	}
	return f
}
