package model

import "time"

// MatchStatus is the persisted lifecycle state of a match.
type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "PENDING"
	MatchStatusInProgress MatchStatus = "IN_PROGRESS"
	MatchStatusCompleted  MatchStatus = "COMPLETED"
	MatchStatusCancelled  MatchStatus = "CANCELLED"
)

// EndReason records why a match left IN_PROGRESS.
type EndReason string

const (
	EndReasonSolved    EndReason = "SOLVED"
	EndReasonForfeit   EndReason = "FORFEIT"
	EndReasonTimeout   EndReason = "TIMEOUT"
	EndReasonCancelled EndReason = "CANCELLED"
)

// TerminalStatus returns the status a match ends in for the given reason.
func (r EndReason) TerminalStatus() MatchStatus {
	if r == EndReasonCancelled {
		return MatchStatusCancelled
	}
	return MatchStatusCompleted
}

// Match is the persisted match row.
type Match struct {
	ID        string      `db:"id" json:"id"`
	Player1ID string      `db:"player1_id" json:"player1Id"`
	Player2ID string      `db:"player2_id" json:"player2Id"`
	ProblemID string      `db:"problem_id" json:"problemId"`
	Status    MatchStatus `db:"status" json:"status"`
	WinnerID  *string     `db:"winner_id" json:"winnerId"`
	EndReason *EndReason  `db:"end_reason" json:"endReason"`
	StartedAt *time.Time  `db:"started_at" json:"startedAt"`
	EndedAt   *time.Time  `db:"ended_at" json:"endedAt"`
}

// HasPlayer reports whether playerID is one of the two participants.
func (m *Match) HasPlayer(playerID string) bool {
	return playerID != "" && (m.Player1ID == playerID || m.Player2ID == playerID)
}

// Opponent returns the other participant, or "" when playerID is not in the match.
func (m *Match) Opponent(playerID string) string {
	switch playerID {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	default:
		return ""
	}
}

// MatchDetails is a match with its players and problem resolved.
type MatchDetails struct {
	ID        string       `json:"id"`
	Player1   PlayerPublic `json:"player1"`
	Player2   PlayerPublic `json:"player2"`
	Problem   Problem      `json:"problem"`
	WinnerID  *string      `json:"winnerId"`
	Status    MatchStatus  `json:"status"`
	EndReason *EndReason   `json:"endReason,omitempty"`
	StartedAt *time.Time   `json:"startedAt"`
	EndedAt   *time.Time   `json:"endedAt"`
}

// HasPlayer reports whether playerID is one of the two participants.
func (d *MatchDetails) HasPlayer(playerID string) bool {
	return playerID != "" && (d.Player1.ID == playerID || d.Player2.ID == playerID)
}

// ForClient returns a copy safe to send to clients: hidden cases are
// stripped while the match is still running.
func (d MatchDetails) ForClient() MatchDetails {
	if d.Status == MatchStatusInProgress {
		d.Problem = d.Problem.WithoutHidden()
	}
	return d
}

// RatingChange describes one player's rating update at match end.
type RatingChange struct {
	PlayerID  string `json:"playerId"`
	OldRating int    `json:"oldRating"`
	NewRating int    `json:"newRating"`
	Delta     int    `json:"delta"`
}

// Outcome is the result of a terminal transition.
type Outcome struct {
	MatchID       string         `json:"matchId"`
	WinnerID      *string        `json:"winnerId"`
	Reason        EndReason      `json:"reason"`
	RatingChanges []RatingChange `json:"ratings,omitempty"`
}

// ActiveMatchSummary is the spectator listing entry for a running match.
type ActiveMatchSummary struct {
	ID             string       `json:"id"`
	Player1        PlayerPublic `json:"player1"`
	Player2        PlayerPublic `json:"player2"`
	ProblemTitle   string       `json:"problemTitle"`
	StartedAt      *time.Time   `json:"startedAt"`
	SpectatorCount int64        `json:"spectatorCount"`
}
