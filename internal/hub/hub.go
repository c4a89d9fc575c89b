// Package hub serves the real-time duel protocol over WebSockets.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"codeduel/internal/common/http/middleware"
	execmodel "codeduel/internal/execution/model"
	"codeduel/internal/match/model"
	"codeduel/internal/matchmaking"
	"codeduel/internal/metrics"
	"codeduel/internal/state"
	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/contextkey"
	"codeduel/pkg/utils/logger"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const lobbyRoom = "lobby"

func matchRoom(matchID string) string { return "match:" + matchID }

func spectateRoom(matchID string) string { return "spectate:" + matchID }

// Lifecycle is the part of the match manager the hub drives.
type Lifecycle interface {
	GetPlayer(ctx context.Context, playerID string) (*model.Player, error)
	GetMatchByID(ctx context.Context, matchID string) (*model.MatchDetails, error)
	GetUserActiveMatch(ctx context.Context, playerID string) (*model.MatchDetails, error)
	ListActiveMatches(ctx context.Context) ([]model.ActiveMatchSummary, error)
	EndMatch(ctx context.Context, matchID string, winnerID *string, reason model.EndReason) (*model.Outcome, error)
	Cleanup(ctx context.Context, matchID string) error
	TryPair(ctx context.Context, playerID string) (*model.MatchDetails, error)
	Paired() <-chan model.MatchPaired
	Ended() <-chan model.MatchEnded
}

// Executions queues code and streams back results.
type Executions interface {
	Enqueue(ctx context.Context, req execmodel.ExecutionRequest, problem *model.Problem) (execmodel.Job, error)
	Results() <-chan execmodel.Result
}

// Config tunes connections and per-player limits.
type Config struct {
	SendBuffer      int           `yaml:"sendBuffer"`
	WriteWait       time.Duration `yaml:"writeWait"`
	PongWait        time.Duration `yaml:"pongWait"`
	PingPeriod      time.Duration `yaml:"pingPeriod"`
	MaxMessageBytes int64         `yaml:"maxMessageBytes"`
	MaxChatLength   int           `yaml:"maxChatLength"`
	ExecLimit       int           `yaml:"execLimit"`
	ExecWindow      time.Duration `yaml:"execWindow"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:      64,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		MaxMessageBytes: 128 * 1024,
		MaxChatLength:   500,
		ExecLimit:       10,
		ExecWindow:      time.Minute,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	if c.MaxChatLength <= 0 {
		c.MaxChatLength = def.MaxChatLength
	}
	if c.ExecLimit <= 0 {
		c.ExecLimit = def.ExecLimit
	}
	if c.ExecWindow <= 0 {
		c.ExecWindow = def.ExecWindow
	}
}

// Hub owns the local connections and rooms. Cross request state lives in
// the shared store.
type Hub struct {
	cfg      Config
	auth     middleware.Authenticator
	store    *state.Store
	queue    *matchmaking.Queue
	matches  Lifecycle
	exec     Executions
	upgrader websocket.Upgrader
	baseCtx  context.Context
	now      func() time.Time
	newID    func() string

	handlers map[string]handlerFunc

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}
}

// Deps groups the collaborators of a Hub.
type Deps struct {
	Auth    middleware.Authenticator
	Store   *state.Store
	Queue   *matchmaking.Queue
	Matches Lifecycle
	Exec    Executions
}

func New(ctx context.Context, deps Deps, cfg Config) *Hub {
	cfg.setDefaults()
	h := &Hub{
		cfg:     cfg,
		auth:    deps.Auth,
		store:   deps.Store,
		queue:   deps.Queue,
		matches: deps.Matches,
		exec:    deps.Exec,
		baseCtx: ctx,
		now:     time.Now,
		newID:   uuid.NewString,
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	h.handlers = h.routes()
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Handle authenticates the handshake and upgrades it. Rejected handshakes
// get a 401 before any upgrade happens.
func (h *Hub) Handle(c *gin.Context) {
	token := middleware.ExtractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	principal, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	connID := h.newID()
	ctx := context.WithValue(h.baseCtx, contextkey.PlayerID, principal.PlayerID)
	ctx = context.WithValue(ctx, contextkey.ConnID, connID)
	client := &Client{
		hub:    h,
		conn:   conn,
		id:     connID,
		player: principal,
		ctx:    ctx,
		send:   make(chan []byte, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}

	go client.writePump()
	h.connect(client)
	go client.readPump()
}

func (h *Hub) connect(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.join(c, lobbyRoom)
	metrics.ConnectionOpened()

	ctx := c.ctx
	if err := h.store.BindSocket(ctx, c.PlayerID(), c.id); err != nil {
		logger.Error(ctx, "bind socket failed", zap.Error(err))
	}
	logger.Info(ctx, "player connected", zap.String("username", c.player.Username))

	active, err := h.matches.GetUserActiveMatch(ctx, c.PlayerID())
	if err != nil {
		logger.Warn(ctx, "active match lookup failed", zap.Error(err))
		return
	}
	if active == nil {
		return
	}
	h.join(c, matchRoom(active.ID))
	c.emit(EventMatchStarted, active.ForClient())
	h.sendMatchHistory(ctx, c, active.ID)
}

func (h *Hub) disconnect(c *Client) {
	ctx := context.WithoutCancel(c.ctx)
	pid := c.PlayerID()

	if _, err := h.store.UnbindSocket(ctx, pid, c.id); err != nil {
		logger.Warn(ctx, "unbind socket failed", zap.Error(err))
	}
	if h.boundElsewhere(ctx, pid) {
		logger.Debug(ctx, "player still connected elsewhere, keeping queue entry")
	} else if err := h.queue.Leave(ctx, pid); err != nil {
		logger.Warn(ctx, "leave queue on disconnect failed", zap.Error(err))
	}

	for _, room := range c.roomList() {
		if matchID, ok := strings.CutPrefix(room, "spectate:"); ok {
			h.stopSpectating(ctx, c, matchID)
		}
	}
	for _, room := range c.roomList() {
		h.leave(c, room)
	}

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	metrics.ConnectionClosed()
	logger.Info(ctx, "player disconnected")
}

func (h *Hub) boundElsewhere(ctx context.Context, playerID string) bool {
	connID, err := h.store.SocketOf(ctx, playerID)
	return err == nil && connID != ""
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()
	c.joined(room)
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	c.left(room)
}

// closeRoom removes every member from room.
func (h *Hub) closeRoom(room string) {
	h.mu.Lock()
	members := h.rooms[room]
	delete(h.rooms, room)
	h.mu.Unlock()
	for c := range members {
		c.left(room)
	}
}

func (h *Hub) members(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		out = append(out, c)
	}
	return out
}

// broadcast sends one frame to every member of the given rooms, once per client.
func (h *Hub) broadcast(event string, data any, rooms ...string) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		logger.Error(h.baseCtx, "encode frame failed", zap.String("event", event), zap.Error(err))
		return
	}
	seen := make(map[*Client]struct{})
	for _, room := range rooms {
		for _, c := range h.members(room) {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			c.enqueue(frame)
		}
	}
}

// clientOf returns the local connection currently bound to playerID.
func (h *Hub) clientOf(ctx context.Context, playerID string) *Client {
	connID, err := h.store.SocketOf(ctx, playerID)
	if err != nil {
		logger.Warn(ctx, "socket lookup failed", zap.String("player_id", playerID), zap.Error(err))
		return nil
	}
	if connID == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connID]
}

func (h *Hub) sendToPlayer(ctx context.Context, playerID, event string, data any) bool {
	c := h.clientOf(ctx, playerID)
	if c == nil {
		logger.Debug(ctx, "player not connected", zap.String("player_id", playerID), zap.String("event", event))
		return false
	}
	c.emit(event, data)
	return true
}

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

func (h *Hub) dispatch(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		c.emitError(pkgerrors.BadRequest("Malformed frame"))
		return
	}
	handler, ok := h.handlers[frame.Event]
	if !ok {
		c.emitError(pkgerrors.Newf(pkgerrors.UnknownEvent, "Unknown event: %s", frame.Event))
		return
	}
	if err := handler(c.ctx, c, frame.Data); err != nil {
		code := pkgerrors.GetCode(err)
		if code.HTTPStatus() >= http.StatusInternalServerError {
			logger.Error(c.ctx, "event failed", zap.String("event", frame.Event), zap.Error(err))
		} else {
			logger.Debug(c.ctx, "event rejected", zap.String("event", frame.Event), zap.Error(err))
		}
		c.emitError(err)
	}
}

// emitError replies error{message}; server side causes are not echoed.
func (c *Client) emitError(err error) {
	e := pkgerrors.GetError(err)
	msg := e.Error()
	if e.Code.HTTPStatus() >= http.StatusInternalServerError {
		msg = e.Code.Message()
	}
	c.emit(EventError, ErrorMessage{Message: msg})
}

func (h *Hub) sendMatchHistory(ctx context.Context, c *Client, matchID string) {
	history, err := h.store.MatchChat(ctx, matchID)
	if err != nil {
		logger.Warn(ctx, "load match chat failed", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	c.emit(EventChatHistory, history)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

// ConnectionCount returns the number of local connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
