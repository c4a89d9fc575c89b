package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeduel/internal/common/cache"
	execmodel "codeduel/internal/execution/model"
	"codeduel/internal/identity"
	"codeduel/internal/match/model"
	"codeduel/internal/matchmaking"
	"codeduel/internal/state"
	pkgerrors "codeduel/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

type tokenAuth struct{}

func (tokenAuth) Authenticate(ctx context.Context, token string) (identity.Principal, error) {
	switch token {
	case "alice", "bob", "carol":
		return identity.Principal{PlayerID: token, Username: strings.ToUpper(token[:1]) + token[1:], Role: "player", Rating: 1200}, nil
	}
	return identity.Principal{}, pkgerrors.UnauthorizedError("Invalid token")
}

type endCall struct {
	matchID string
	winner  *string
	reason  model.EndReason
}

type fakeLifecycle struct {
	mu        sync.Mutex
	players   map[string]*model.Player
	matches   map[string]*model.MatchDetails
	endCalls  []endCall
	cleanups  []string
	pairCalls []string
	paired    chan model.MatchPaired
	ended     chan model.MatchEnded
}

func newFakeLifecycle() *fakeLifecycle {
	f := &fakeLifecycle{
		players: make(map[string]*model.Player),
		matches: make(map[string]*model.MatchDetails),
		paired:  make(chan model.MatchPaired, 8),
		ended:   make(chan model.MatchEnded, 8),
	}
	for _, id := range []string{"alice", "bob", "carol"} {
		f.players[id] = &model.Player{ID: id, Username: id, Rating: 1200}
	}
	return f
}

func (f *fakeLifecycle) GetPlayer(ctx context.Context, playerID string) (*model.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[playerID]
	if !ok {
		return nil, pkgerrors.NotFoundError(pkgerrors.PlayerNotFound, playerID)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeLifecycle) GetMatchByID(ctx context.Context, matchID string) (*model.MatchDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.matches[matchID]
	if !ok {
		return nil, pkgerrors.NotFoundError(pkgerrors.MatchNotFound, matchID)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeLifecycle) GetUserActiveMatch(ctx context.Context, playerID string) (*model.MatchDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.matches {
		if d.Status == model.MatchStatusInProgress && d.HasPlayer(playerID) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeLifecycle) ListActiveMatches(ctx context.Context) ([]model.ActiveMatchSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ActiveMatchSummary
	for _, d := range f.matches {
		if d.Status == model.MatchStatusInProgress {
			out = append(out, model.ActiveMatchSummary{ID: d.ID, Player1: d.Player1, Player2: d.Player2, ProblemTitle: d.Problem.Title})
		}
	}
	return out, nil
}

func (f *fakeLifecycle) EndMatch(ctx context.Context, matchID string, winnerID *string, reason model.EndReason) (*model.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls = append(f.endCalls, endCall{matchID: matchID, winner: winnerID, reason: reason})
	d, ok := f.matches[matchID]
	if !ok {
		return nil, pkgerrors.NotFoundError(pkgerrors.MatchNotFound, matchID)
	}
	if d.Status != model.MatchStatusInProgress {
		return nil, pkgerrors.ConflictError(pkgerrors.MatchNotInProgress, "")
	}
	d.Status = reason.TerminalStatus()
	d.WinnerID = winnerID
	d.EndReason = &reason
	return &model.Outcome{MatchID: matchID, WinnerID: winnerID, Reason: reason}, nil
}

func (f *fakeLifecycle) Cleanup(ctx context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, matchID)
	return nil
}

func (f *fakeLifecycle) TryPair(ctx context.Context, playerID string) (*model.MatchDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairCalls = append(f.pairCalls, playerID)
	return nil, nil
}

func (f *fakeLifecycle) Paired() <-chan model.MatchPaired { return f.paired }

func (f *fakeLifecycle) Ended() <-chan model.MatchEnded { return f.ended }

func (f *fakeLifecycle) addMatch(d *model.MatchDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[d.ID] = d
}

func (f *fakeLifecycle) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.endCalls)
}

type fakeExec struct {
	mu      sync.Mutex
	jobs    []execmodel.Job
	results chan execmodel.Result
}

func (f *fakeExec) Enqueue(ctx context.Context, req execmodel.ExecutionRequest, problem *model.Problem) (execmodel.Job, error) {
	job := execmodel.NewJob(req, problem, time.Now())
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	return job, nil
}

func (f *fakeExec) Results() <-chan execmodel.Result { return f.results }

func (f *fakeExec) lastJob(t *testing.T) execmodel.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.jobs)
		var job execmodel.Job
		if n > 0 {
			job = f.jobs[n-1]
		}
		f.mu.Unlock()
		if n > 0 {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no job enqueued")
	return execmodel.Job{}
}

type harness struct {
	hub   *Hub
	life  *fakeLifecycle
	exec  *fakeExec
	store *state.Store
	queue *matchmaking.Queue
	url   string
}

func newHarness(t *testing.T) *harness {
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

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		life:  newFakeLifecycle(),
		exec:  &fakeExec{results: make(chan execmodel.Result, 8)},
		store: store,
		queue: queue,
	}
	h.hub = New(ctx, Deps{Auth: tokenAuth{}, Store: store, Queue: queue, Matches: h.life, Exec: h.exec}, DefaultConfig())
	go h.hub.Run(ctx)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", h.hub.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		h.hub.Shutdown()
		cancel()
		srv.Close()
	})
	h.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return h
}

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

// dial connects as token and waits until the connection is bound.
func (h *harness) dial(t *testing.T, token string) *wsConn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(h.url, header)
	if err != nil {
		t.Fatalf("dial as %s failed: %v", token, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.hub.clientOf(context.Background(), token) != nil {
			return &wsConn{t: t, conn: conn}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection of %s never bound", token)
	return nil
}

func (w *wsConn) send(event string, data any) {
	w.t.Helper()
	frame, err := encodeFrame(event, data)
	if err != nil {
		w.t.Fatalf("encode failed: %v", err)
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		w.t.Fatalf("write failed: %v", err)
	}
}

// expect reads frames until event arrives and decodes its payload into v.
func (w *wsConn) expect(event string, v any) {
	w.t.Helper()
	_ = w.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.t.Fatalf("waiting for %s: %v", event, err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			w.t.Fatalf("bad frame %s: %v", data, err)
		}
		if f.Event != event {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(f.Data, v); err != nil {
				w.t.Fatalf("decode %s failed: %v", event, err)
			}
		}
		return
	}
}

// expectNone fails if event arrives within d.
func (w *wsConn) expectNone(event string, d time.Duration) {
	w.t.Helper()
	_ = w.conn.SetReadDeadline(time.Now().Add(d))
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		_ = json.Unmarshal(data, &f)
		if f.Event == event {
			w.t.Fatalf("unexpected %s: %s", event, data)
		}
	}
}

func (w *wsConn) expectError(contains string) {
	w.t.Helper()
	var msg ErrorMessage
	w.expect(EventError, &msg)
	if !strings.Contains(msg.Message, contains) {
		w.t.Fatalf("expected error containing %q, got %q", contains, msg.Message)
	}
}

func duel(id, p1, p2 string) *model.MatchDetails {
	now := time.Now()
	return &model.MatchDetails{
		ID:      id,
		Player1: model.PlayerPublic{ID: p1, Username: p1, EloRating: 1200},
		Player2: model.PlayerPublic{ID: p2, Username: p2, EloRating: 1200},
		Problem: model.Problem{
			ID:    "add",
			Title: "Add",
			TestCases: model.TestCases{
				{Input: "1 2", ExpectedOutput: "3"},
				{Input: "2 3", ExpectedOutput: "5"},
				{Input: "10 20", ExpectedOutput: "30", IsHidden: true},
			},
		},
		Status:    model.MatchStatusInProgress,
		StartedAt: &now,
	}
}
