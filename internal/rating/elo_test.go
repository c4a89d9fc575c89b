package rating

import (
	"math"
	"testing"
)

func TestExpectedScoreSymmetry(t *testing.T) {
	for _, pair := range [][2]int{{1200, 1200}, {1500, 1100}, {0, 2400}} {
		sum := ExpectedScore(pair[0], pair[1]) + ExpectedScore(pair[1], pair[0])
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("expected scores for %v sum to %f", pair, sum)
		}
	}
	if got := ExpectedScore(1200, 1200); got != 0.5 {
		t.Fatalf("equal ratings expected 0.5, got %f", got)
	}
}

func TestComputeEqualRatings(t *testing.T) {
	res := Compute(1200, 1200)
	if res.WinnerDelta != 16 || res.LoserDelta != 16 {
		t.Fatalf("expected deltas 16/16, got %d/%d", res.WinnerDelta, res.LoserDelta)
	}
	if res.NewWinner != 1216 || res.NewLoser != 1184 {
		t.Fatalf("unexpected ratings: %+v", res)
	}
}

func TestComputeFavouriteWins(t *testing.T) {
	res := Compute(1200, 1000)
	if res.WinnerDelta != 8 || res.NewWinner != 1208 {
		t.Fatalf("expected winner delta 8 and rating 1208, got %+v", res)
	}
	if res.NewLoser != 1000-res.LoserDelta {
		t.Fatalf("unexpected loser rating: %+v", res)
	}
}

func TestComputeLoserFloor(t *testing.T) {
	res := Compute(0, 5)
	if res.NewLoser != 0 {
		t.Fatalf("loser must be floored at 0, got %d", res.NewLoser)
	}
	if res.NewWinner <= 0 {
		t.Fatalf("winner must gain, got %d", res.NewWinner)
	}
}

func TestComputeDraw(t *testing.T) {
	a, b := ComputeDraw(1200, 1200)
	if a != 1200 || b != 1200 {
		t.Fatalf("equal draw must not move ratings, got %d/%d", a, b)
	}
	a, b = ComputeDraw(1400, 1000)
	if a >= 1400 || b <= 1000 {
		t.Fatalf("favourite must lose points in a draw, got %d/%d", a, b)
	}
}
