package hub

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	execmodel "codeduel/internal/execution/model"
	"codeduel/internal/match/model"
	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

func (h *Hub) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		EventJoinLobby:        h.onJoinLobby,
		EventLeaveLobby:       h.onLeaveLobby,
		EventJoinMatch:        h.onJoinMatch,
		EventSubmitCode:       h.onSubmitCode,
		EventRunCode:          h.onRunCode,
		EventCodeUpdate:       h.onCodeUpdate,
		EventForfeitMatch:     h.onForfeit,
		EventSendLobbyMessage: h.onLobbyMessage,
		EventSendMatchMessage: h.onMatchMessage,
		EventJoinSpectator:    h.onJoinSpectator,
		EventLeaveSpectator:   h.onLeaveSpectator,
		EventGetActiveMatches: h.onGetActiveMatches,
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return pkgerrors.BadRequest("Missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return pkgerrors.BadRequest("Invalid payload")
	}
	return nil
}

func decodeMatchID(data json.RawMessage) (string, error) {
	var matchID string
	if err := decode(data, &matchID); err != nil {
		return "", err
	}
	if matchID = strings.TrimSpace(matchID); matchID == "" {
		return "", pkgerrors.ValidationError("matchId", "Match ID is required")
	}
	return matchID, nil
}

func (h *Hub) onJoinLobby(ctx context.Context, c *Client, _ json.RawMessage) error {
	pid := c.PlayerID()
	active, err := h.matches.GetUserActiveMatch(ctx, pid)
	if err != nil {
		return err
	}
	if active != nil {
		return pkgerrors.ConflictError(pkgerrors.AlreadyInMatch, "")
	}
	player, err := h.matches.GetPlayer(ctx, pid)
	if err != nil {
		return err
	}

	if _, err := h.queue.Join(ctx, pid, player.Rating); err != nil {
		return err
	}
	position, err := h.queue.Position(ctx, pid)
	if err != nil {
		return err
	}
	size, err := h.queue.Size(ctx)
	if err != nil {
		return err
	}
	c.emit(EventLobbyJoined, LobbyJoined{Position: position, EstimatedWait: h.queue.EstimatedWait(size)})

	// A successful pairing arrives through the Paired stream.
	if _, err := h.matches.TryPair(ctx, pid); err != nil {
		logger.Warn(ctx, "immediate pairing failed", zap.Error(err))
	}
	return nil
}

func (h *Hub) onLeaveLobby(ctx context.Context, c *Client, _ json.RawMessage) error {
	if err := h.queue.Leave(ctx, c.PlayerID()); err != nil {
		return err
	}
	c.emit(EventLobbyLeft, nil)
	return nil
}

func (h *Hub) onJoinMatch(ctx context.Context, c *Client, data json.RawMessage) error {
	matchID, err := decodeMatchID(data)
	if err != nil {
		return err
	}
	details, err := h.matches.GetMatchByID(ctx, matchID)
	if err != nil {
		return err
	}
	if !details.HasPlayer(c.PlayerID()) {
		return pkgerrors.New(pkgerrors.NotMatchParticipant)
	}
	h.join(c, matchRoom(matchID))
	c.emit(EventMatchStarted, details.ForClient())
	h.sendMatchHistory(ctx, c, matchID)
	return nil
}

func (h *Hub) onSubmitCode(ctx context.Context, c *Client, data json.RawMessage) error {
	return h.execute(ctx, c, data, func(src execmodel.Source) execmodel.ExecutionRequest {
		return execmodel.SubmitRequest{Src: src}
	})
}

func (h *Hub) onRunCode(ctx context.Context, c *Client, data json.RawMessage) error {
	return h.execute(ctx, c, data, func(src execmodel.Source) execmodel.ExecutionRequest {
		return execmodel.RunRequest{Src: src}
	})
}

func (h *Hub) execute(ctx context.Context, c *Client, data json.RawMessage, build func(execmodel.Source) execmodel.ExecutionRequest) error {
	var req CodeSubmission
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.MatchID == "" || req.Language == "" || req.Code == "" {
		return pkgerrors.ValidationError("submission", "Match ID, language, and code are required")
	}
	if len(req.Code) > execmodel.MaxCodeBytes {
		return pkgerrors.New(pkgerrors.CodeTooLarge)
	}

	pid := c.PlayerID()
	details, err := h.matches.GetMatchByID(ctx, req.MatchID)
	if err != nil {
		return err
	}
	if !details.HasPlayer(pid) {
		return pkgerrors.New(pkgerrors.NotMatchParticipant)
	}
	if details.Status != model.MatchStatusInProgress {
		return pkgerrors.ConflictError(pkgerrors.MatchNotInProgress, "")
	}
	allowed, err := h.store.AllowExecution(ctx, pid, h.cfg.ExecLimit, h.cfg.ExecWindow)
	if err != nil {
		return err
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.TooManyRequests)
	}

	job, err := h.exec.Enqueue(ctx, build(execmodel.Source{
		MatchID:  req.MatchID,
		PlayerID: pid,
		Language: req.Language,
		Code:     req.Code,
	}), &details.Problem)
	if err != nil {
		return err
	}
	logger.Debug(ctx, "execution requested", zap.String("job_id", job.ID), zap.String("mode", string(job.Mode)))
	return nil
}

func (h *Hub) onCodeUpdate(ctx context.Context, c *Client, data json.RawMessage) error {
	var req CodeUpdate
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.MatchID == "" {
		return pkgerrors.ValidationError("matchId", "Match ID is required")
	}
	if len(req.Code) > execmodel.MaxCodeBytes {
		return pkgerrors.New(pkgerrors.CodeTooLarge)
	}

	pid := c.PlayerID()
	p1, p2, found, err := h.store.MatchPlayers(ctx, req.MatchID)
	if err != nil {
		return err
	}
	if !found {
		return pkgerrors.NotFoundError(pkgerrors.MatchNotFound, req.MatchID)
	}
	var opponent string
	switch pid {
	case p1:
		opponent = p2
	case p2:
		opponent = p1
	default:
		return pkgerrors.New(pkgerrors.NotMatchParticipant)
	}

	if err := h.store.SaveCode(ctx, req.MatchID, pid, req.Code); err != nil {
		return err
	}
	h.sendToPlayer(ctx, opponent, EventOpponentCodeUpdate, OpponentCode{Code: req.Code})
	h.broadcast(EventPlayerCodeUpdate, PlayerCode{PlayerID: pid, Code: req.Code}, spectateRoom(req.MatchID))
	return nil
}

func (h *Hub) onForfeit(ctx context.Context, c *Client, data json.RawMessage) error {
	matchID, err := decodeMatchID(data)
	if err != nil {
		return err
	}
	details, err := h.matches.GetMatchByID(ctx, matchID)
	if err != nil {
		return err
	}
	pid := c.PlayerID()
	if !details.HasPlayer(pid) {
		return pkgerrors.New(pkgerrors.NotMatchParticipant)
	}
	winner := details.Player1.ID
	if winner == pid {
		winner = details.Player2.ID
	}

	outcome, err := h.matches.EndMatch(ctx, matchID, &winner, model.EndReasonForfeit)
	if err != nil {
		return err
	}
	h.finishMatch(ctx, outcome)
	return nil
}

func (h *Hub) validateChat(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", pkgerrors.New(pkgerrors.MessageEmpty)
	}
	if utf8.RuneCountInString(content) > h.cfg.MaxChatLength {
		return "", pkgerrors.Newf(pkgerrors.MessageTooLong, "Message must be at most %d characters", h.cfg.MaxChatLength)
	}
	return content, nil
}

func (h *Hub) chatMessage(c *Client, content string) model.ChatMessage {
	return model.ChatMessage{
		ID:        h.newID(),
		UserID:    c.PlayerID(),
		Username:  c.player.Username,
		Content:   content,
		Timestamp: h.now().UTC(),
		Type:      model.ChatMessageUser,
	}
}

func (h *Hub) onLobbyMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var content string
	if err := decode(data, &content); err != nil {
		return err
	}
	content, err := h.validateChat(content)
	if err != nil {
		return err
	}
	msg := h.chatMessage(c, content)
	if err := h.store.AppendLobbyChat(ctx, msg); err != nil {
		return err
	}
	h.broadcast(EventLobbyMessage, msg, lobbyRoom)
	return nil
}

func (h *Hub) onMatchMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req MatchMessage
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.MatchID == "" {
		return pkgerrors.ValidationError("matchId", "Match ID is required")
	}
	content, err := h.validateChat(req.Content)
	if err != nil {
		return err
	}
	room := matchRoom(req.MatchID)
	if !c.inRoom(room) {
		return pkgerrors.New(pkgerrors.NotInMatchRoom)
	}
	msg := h.chatMessage(c, content)
	if err := h.store.AppendMatchChat(ctx, req.MatchID, msg); err != nil {
		return err
	}
	h.broadcast(EventMatchMessage, msg, room)
	return nil
}

func (h *Hub) onJoinSpectator(ctx context.Context, c *Client, data json.RawMessage) error {
	matchID, err := decodeMatchID(data)
	if err != nil {
		return err
	}
	details, err := h.matches.GetMatchByID(ctx, matchID)
	if err != nil {
		return err
	}
	if details.Status != model.MatchStatusInProgress {
		return pkgerrors.ConflictError(pkgerrors.MatchNotInProgress, "")
	}
	if details.HasPlayer(c.PlayerID()) {
		return pkgerrors.ConflictError(pkgerrors.SpectateOwnMatch, "")
	}

	count, err := h.store.AddSpectator(ctx, matchID, c.PlayerID())
	if err != nil {
		return err
	}
	code, err := h.store.Code(ctx, matchID)
	if err != nil {
		return err
	}
	h.join(c, matchRoom(matchID))
	h.join(c, spectateRoom(matchID))

	c.emit(EventSpectatorState, SpectatorState{
		Match:       details.ForClient(),
		Player1Code: code[details.Player1.ID],
		Player2Code: code[details.Player2.ID],
	})
	h.sendMatchHistory(ctx, c, matchID)
	h.broadcast(EventSpectatorJoined, SpectatorJoined{MatchID: matchID, SpectatorCount: count}, matchRoom(matchID))
	return nil
}

func (h *Hub) onLeaveSpectator(ctx context.Context, c *Client, data json.RawMessage) error {
	matchID, err := decodeMatchID(data)
	if err != nil {
		return err
	}
	if !c.inRoom(spectateRoom(matchID)) {
		return nil
	}
	h.stopSpectating(ctx, c, matchID)
	return nil
}

// stopSpectating removes c from a spectated match and rebroadcasts the count.
func (h *Hub) stopSpectating(ctx context.Context, c *Client, matchID string) {
	h.leave(c, spectateRoom(matchID))
	h.leave(c, matchRoom(matchID))
	count, err := h.store.RemoveSpectator(ctx, matchID, c.PlayerID())
	if err != nil {
		logger.Warn(ctx, "remove spectator failed", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	h.broadcast(EventSpectatorJoined, SpectatorJoined{MatchID: matchID, SpectatorCount: count}, matchRoom(matchID))
}

func (h *Hub) onGetActiveMatches(ctx context.Context, c *Client, _ json.RawMessage) error {
	summaries, err := h.matches.ListActiveMatches(ctx)
	if err != nil {
		return err
	}
	c.emit(EventActiveMatches, summaries)
	return nil
}
