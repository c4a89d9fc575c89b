// Package rating implements the ELO rating update used at match end.
package rating

import "math"

// KFactor is the maximum rating swing of a single match.
const KFactor = 32

// ExpectedScore is the probability that a player rated a beats one rated b.
func ExpectedScore(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Result holds new ratings and the applied deltas.
type Result struct {
	NewWinner   int
	NewLoser    int
	WinnerDelta int
	LoserDelta  int
}

// Compute returns updated ratings for a decisive match. The loser never drops below 0.
func Compute(winner, loser int) Result {
	winnerDelta := int(math.Round(KFactor * (1 - ExpectedScore(winner, loser))))
	loserDelta := int(math.Round(KFactor * ExpectedScore(loser, winner)))
	return Result{
		NewWinner:   winner + winnerDelta,
		NewLoser:    max(0, loser-loserDelta),
		WinnerDelta: winnerDelta,
		LoserDelta:  loserDelta,
	}
}

// ComputeDraw returns updated ratings when neither player won.
func ComputeDraw(a, b int) (int, int) {
	deltaA := int(math.Round(KFactor * (0.5 - ExpectedScore(a, b))))
	deltaB := int(math.Round(KFactor * (0.5 - ExpectedScore(b, a))))
	return max(0, a+deltaA), max(0, b+deltaB)
}
