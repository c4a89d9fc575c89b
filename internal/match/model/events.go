package model

// MatchPaired is published after the matchmaker created a match.
type MatchPaired struct {
	Details MatchDetails
}

// MatchEnded is published after a background sweep ended a match.
type MatchEnded struct {
	Outcome Outcome
}
