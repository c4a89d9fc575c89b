package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codeduel/internal/cli/command"
	"codeduel/internal/cli/config"
	httpclient "codeduel/internal/cli/http"
	"codeduel/internal/cli/state"
	wsclient "codeduel/internal/cli/ws"

	"github.com/gorilla/websocket"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeServer serves /health and a /ws endpoint that starts the caller in
// match m9 and ends it on forfeit.
func fakeServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"status":"healthy"}}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(wsclient.Frame{Event: "match_started", Data: json.RawMessage(`{"id":"m9"}`)})
		for {
			var f wsclient.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Event == "forfeit_match" && string(f.Data) == `"m9"` {
				_ = conn.WriteJSON(wsclient.Frame{Event: "match_ended", Data: json.RawMessage(`{"matchId":"m9","reason":"FORFEIT"}`)})
				continue
			}
			_ = conn.WriteJSON(wsclient.Frame{Event: "error", Data: json.RawMessage(`{"message":"Unknown event"}`)})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newSession(t *testing.T, baseURL string) (*Session, *syncBuffer) {
	t.Helper()
	pretty := false
	cfg := config.Config{
		BaseURL:        baseURL,
		TokenStatePath: filepath.Join(t.TempDir(), "state.json"),
		PrettyJSON:     &pretty,
	}
	tokens := &state.TokenState{AccessToken: "tok"}
	client := httpclient.New(baseURL, time.Second, func() string { return tokens.AccessToken })
	s := New(client, command.Registry(), tokens, cfg)
	out := &syncBuffer{}
	s.out = out
	t.Cleanup(s.disconnect)
	return s, out
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHTTPCommand(t *testing.T) {
	s, out := newSession(t, fakeServer(t))
	if done := s.Execute(context.Background(), "server health"); done {
		t.Fatalf("server health must not end the session")
	}
	if !strings.Contains(out.String(), "HTTP 200") || !strings.Contains(out.String(), "healthy") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestSessionTracksCurrentMatch(t *testing.T) {
	s, out := newSession(t, fakeServer(t))
	ctx := context.Background()

	s.Execute(ctx, "lobby join")
	if !strings.Contains(out.String(), "not connected") {
		t.Fatalf("expected not connected error, got: %s", out.String())
	}

	s.Execute(ctx, "connect")
	waitFor(t, func() bool { return s.currentMatch() == "m9" }, "match_started")

	s.Execute(ctx, "duel forfeit")
	waitFor(t, func() bool { return s.currentMatch() == "" }, "match_ended")
	if !strings.Contains(out.String(), "<< match_ended") {
		t.Fatalf("expected match_ended rendering, got: %s", out.String())
	}

	s.Execute(ctx, "lobby matches")
	waitFor(t, func() bool { return strings.Contains(out.String(), "!! Unknown event") }, "error rendering")
}

func TestScriptWithoutPromptFailsOnMissingField(t *testing.T) {
	s, out := newSession(t, fakeServer(t))
	script := "# comment\nspectate join\nshow match\nexit\nshow token\n"
	if err := s.RunScript(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatalf("run script failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "match_id is required") || !strings.Contains(got, "match: <none>") {
		t.Fatalf("unexpected output: %s", got)
	}
	if strings.Contains(got, "token:") {
		t.Fatalf("commands after exit must not run: %s", got)
	}
}

func TestSetTokenPersists(t *testing.T) {
	s, _ := newSession(t, fakeServer(t))
	s.Execute(context.Background(), "set token abc.def")
	loaded, err := state.Load(s.statePath)
	if err != nil {
		t.Fatalf("load state failed: %v", err)
	}
	if loaded.AccessToken != "abc.def" || loaded.SavedAt.IsZero() {
		t.Fatalf("unexpected saved state: %+v", loaded)
	}
}
