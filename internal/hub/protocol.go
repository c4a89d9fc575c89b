package hub

import (
	"encoding/json"

	"codeduel/internal/match/model"
)

// Client to server events.
const (
	EventJoinLobby        = "join_lobby"
	EventLeaveLobby       = "leave_lobby"
	EventJoinMatch        = "join_match"
	EventSubmitCode       = "submit_code"
	EventRunCode          = "run_code"
	EventCodeUpdate       = "code_update"
	EventForfeitMatch     = "forfeit_match"
	EventSendLobbyMessage = "send_lobby_message"
	EventSendMatchMessage = "send_match_message"
	EventJoinSpectator    = "join_spectator"
	EventLeaveSpectator   = "leave_spectator"
	EventGetActiveMatches = "get_active_matches"
)

// Server to client events.
const (
	EventLobbyJoined        = "lobby_joined"
	EventLobbyLeft          = "lobby_left"
	EventMatchFound         = "match_found"
	EventMatchStarted       = "match_started"
	EventOpponentCodeUpdate = "opponent_code_update"
	EventPlayerCodeUpdate   = "player_code_update"
	EventSubmissionResult   = "submission_result"
	EventRunResult          = "run_result"
	EventMatchEnded         = "match_ended"
	EventLobbyMessage       = "lobby_message"
	EventMatchMessage       = "match_message"
	EventChatHistory        = "chat_history"
	EventSpectatorJoined    = "spectator_joined"
	EventSpectatorState     = "spectator_state"
	EventActiveMatches      = "active_matches"
	EventError              = "error"
)

// Frame is the wire format in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

type LobbyJoined struct {
	Position      int64 `json:"position"`
	EstimatedWait int64 `json:"estimatedWait"`
}

type CodeSubmission struct {
	MatchID  string `json:"matchId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type CodeUpdate struct {
	MatchID string `json:"matchId"`
	Code    string `json:"code"`
}

type OpponentCode struct {
	Code string `json:"code"`
}

type PlayerCode struct {
	PlayerID string `json:"playerId"`
	Code     string `json:"code"`
}

type MatchMessage struct {
	MatchID string `json:"matchId"`
	Content string `json:"content"`
}

type MatchEnded struct {
	MatchID  string               `json:"matchId"`
	WinnerID *string              `json:"winnerId"`
	Reason   model.EndReason      `json:"reason"`
	Ratings  []model.RatingChange `json:"ratings,omitempty"`
}

type SpectatorJoined struct {
	MatchID        string `json:"matchId"`
	SpectatorCount int64  `json:"spectatorCount"`
}

type SpectatorState struct {
	Match       model.MatchDetails `json:"match"`
	Player1Code string             `json:"player1Code"`
	Player2Code string             `json:"player2Code"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
