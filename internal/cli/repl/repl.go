package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"codeduel/internal/cli/command"
	"codeduel/internal/cli/config"
	httpclient "codeduel/internal/cli/http"
	"codeduel/internal/cli/state"
	wsclient "codeduel/internal/cli/ws"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "duel> "

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	history    string
	prettyJSON bool

	out   io.Writer
	outMu sync.Mutex
	ask   func(prompt string) (string, error)

	mu    sync.Mutex
	conn  *wsclient.Conn
	match string
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, cfg config.Config) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		statePath:  cfg.TokenStatePath,
		history:    cfg.HistoryFile,
		prettyJSON: cfg.PrettyJSON != nil && *cfg.PrettyJSON,
		out:        os.Stdout,
	}
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     s.history,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	defer s.disconnect()

	s.out = rl.Stdout()
	s.ask = func(p string) (string, error) {
		rl.SetPrompt(p + ": ")
		defer rl.SetPrompt(prompt)
		line, err := rl.Readline()
		return strings.TrimSpace(line), err
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if done := s.Execute(ctx, line); done {
			return nil
		}
	}
}

// RunScript executes one command per line of r, without prompts.
func (s *Session) RunScript(ctx context.Context, r io.Reader) error {
	defer s.disconnect()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.printLine("%s%s", prompt, line)
		if done := s.Execute(ctx, line); done {
			return nil
		}
	}
	return scanner.Err()
}

// Execute handles one input line and reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) bool {
	tokens, err := shlex.Split(line)
	if err != nil {
		s.printLine("error: parse command failed: %v", err)
		return false
	}
	if len(tokens) == 0 {
		return false
	}

	switch tokens[0] {
	case "exit", "quit":
		s.printLine("bye")
		return true
	case "help":
		s.printHelp()
		return false
	case "set":
		s.handleSet(tokens[1:])
		return false
	case "show":
		s.handleShow(tokens[1:])
		return false
	case "connect":
		if err := s.connect(ctx); err != nil {
			s.printLine("error: %v", err)
		}
		return false
	case "disconnect":
		s.disconnect()
		s.printLine("disconnected")
		return false
	case "wait":
		s.wait(ctx, tokens[1:])
		return false
	}

	if err := s.handleCommand(ctx, tokens); err != nil {
		s.printLine("error: %v", err)
	}
	return false
}

func (s *Session) handleSet(args []string) {
	if len(args) < 2 {
		s.printLine("usage: set base|token|timeout <value>")
		return
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		s.tokenState.AccessToken = args[1]
		s.tokenState.SavedAt = time.Time{}
		if err := state.Save(s.statePath, *s.tokenState); err != nil {
			s.printLine("save token failed: %v", err)
			return
		}
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args []string) {
	what := ""
	if len(args) > 0 {
		what = args[0]
	}
	switch what {
	case "token":
		if s.tokenState.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.tokenState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "match":
		if current := s.currentMatch(); current != "" {
			s.printLine("match: %s", current)
			return
		}
		s.printLine("match: <none>")
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.statePath)
		s.printLine("historyFile: %s", s.history)
	default:
		s.printLine("usage: show token|match|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <group> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}

	switch cmd.Transport {
	case command.TransportEvent:
		spec, err := command.BuildEvent(cmd, params)
		if err != nil {
			return err
		}
		conn := s.session()
		if conn == nil {
			return fmt.Errorf("not connected, run connect first")
		}
		return conn.Send(spec.Event, spec.Data)
	default:
		req, err := command.BuildRequest(cmd, params)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(ctx, req.Method, req.Path, req.Body)
		if err != nil {
			return err
		}
		s.renderResponse(resp)
		return nil
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range command.Resolve(cmd, params, s.currentMatch()) {
		if s.ask == nil {
			return fmt.Errorf("%s is required", field.Name)
		}
		value, err := s.ask(field.Prompt)
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	if s.session() != nil {
		return fmt.Errorf("already connected")
	}
	url, err := config.WebSocketURL(s.client.BaseURL())
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := wsclient.Dial(dialCtx, url, s.tokenState.AccessToken)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	go s.pump(conn)
	s.printLine("connected to %s", url)
	return nil
}

func (s *Session) pump(conn *wsclient.Conn) {
	for f := range conn.Frames() {
		s.printLine("%s", s.observe(f))
	}
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	if err := conn.Err(); err != nil {
		s.printLine("session ended: %v", err)
	}
}

func (s *Session) disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
		<-conn.Done()
	}
}

func (s *Session) session() *wsclient.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) currentMatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match
}

// wait pauses a script so pushed frames can arrive.
func (s *Session) wait(ctx context.Context, args []string) {
	dur := time.Second
	if len(args) > 0 {
		parsed, err := time.ParseDuration(args[0])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		dur = parsed
	}
	select {
	case <-ctx.Done():
	case <-time.After(dur):
	}
}

// observe tracks the current match and renders a frame for display.
func (s *Session) observe(f wsclient.Frame) string {
	switch f.Event {
	case "match_found", "match_started":
		var m struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(f.Data, &m) == nil && m.ID != "" {
			s.mu.Lock()
			s.match = m.ID
			s.mu.Unlock()
		}
	case "match_ended":
		var m struct {
			MatchID string `json:"matchId"`
		}
		if json.Unmarshal(f.Data, &m) == nil {
			s.mu.Lock()
			if s.match == m.MatchID {
				s.match = ""
			}
			s.mu.Unlock()
		}
	case "error":
		var m struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(f.Data, &m) == nil {
			return "!! " + m.Message
		}
	}
	if len(f.Data) == 0 {
		return "<< " + f.Event
	}
	return "<< " + f.Event + " " + s.formatJSON(f.Data)
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if env, ok := resp.Envelope(); ok && env.Message != "" && resp.StatusCode >= 400 {
		s.printLine("!! %s", env.Message)
	}
	if len(resp.Body) == 0 {
		return
	}
	s.printLine("%s", s.formatJSON(resp.Body))
}

func (s *Session) formatJSON(data []byte) string {
	if !s.prettyJSON {
		return string(data)
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return string(data)
	}
	formatted, _ := json.MarshalIndent(raw, "", "  ")
	return string(formatted)
}

func (s *Session) completer() *readline.PrefixCompleter {
	groups := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, key := range command.Keys(s.commands) {
		cmd := s.commands[key]
		if _, ok := groups[cmd.Group]; !ok {
			order = append(order, cmd.Group)
		}
		groups[cmd.Group] = append(groups[cmd.Group], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("wait"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("token"), readline.PcItem("timeout")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("match"), readline.PcItem("config")),
		readline.PcItem("exit"),
	}
	for _, group := range order {
		items = append(items, readline.PcItem(group, groups[group]...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("usage: <group> <action> key=value ...")
	s.printLine("system: help | exit | connect | disconnect | wait [dur] | set base|timeout|token | show token|match|config")
	for _, key := range command.Keys(s.commands) {
		s.printLine("  %-18s %s", key, s.commands[key].Help)
	}
	s.printLine("match_id defaults to the match you are in.")
}

func (s *Session) printLine(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
