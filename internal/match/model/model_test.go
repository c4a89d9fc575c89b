package model

import (
	"testing"
	"time"
)

func sampleProblem() Problem {
	return Problem{
		ID:    "p1",
		Title: "Sum",
		TestCases: TestCases{
			{Input: "1 2", ExpectedOutput: "3"},
			{Input: "2 2", ExpectedOutput: "4"},
			{Input: "9 9", ExpectedOutput: "18", IsHidden: true},
		},
	}
}

func TestForClientStripsHiddenWhileInProgress(t *testing.T) {
	now := time.Now()
	details := MatchDetails{ID: "m1", Problem: sampleProblem(), Status: MatchStatusInProgress, StartedAt: &now}

	got := details.ForClient()
	if len(got.Problem.TestCases) != 2 {
		t.Fatalf("expected 2 visible cases, got %d", len(got.Problem.TestCases))
	}
	if len(details.Problem.TestCases) != 3 {
		t.Fatalf("original details must not be modified")
	}

	details.Status = MatchStatusCompleted
	if got := details.ForClient(); len(got.Problem.TestCases) != 3 {
		t.Fatalf("expected all cases after completion, got %d", len(got.Problem.TestCases))
	}
}

func TestTestCasesScanAndValue(t *testing.T) {
	cases := sampleProblem().TestCases
	value, err := cases.Value()
	if err != nil {
		t.Fatalf("value failed: %v", err)
	}
	var scanned TestCases
	if err := scanned.Scan([]byte(value.(string))); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(scanned) != 3 || !scanned[2].IsHidden || scanned[0].ExpectedOutput != "3" {
		t.Fatalf("unexpected scanned cases: %+v", scanned)
	}
	if err := scanned.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestMatchOpponent(t *testing.T) {
	m := Match{Player1ID: "a", Player2ID: "b"}
	if m.Opponent("a") != "b" || m.Opponent("b") != "a" || m.Opponent("c") != "" {
		t.Fatalf("unexpected opponent resolution")
	}
	if m.HasPlayer("") || !m.HasPlayer("b") {
		t.Fatalf("unexpected membership")
	}
}

func TestEndReasonTerminalStatus(t *testing.T) {
	if EndReasonCancelled.TerminalStatus() != MatchStatusCancelled {
		t.Fatalf("cancel must map to CANCELLED")
	}
	for _, r := range []EndReason{EndReasonSolved, EndReasonForfeit, EndReasonTimeout} {
		if r.TerminalStatus() != MatchStatusCompleted {
			t.Fatalf("%s must map to COMPLETED", r)
		}
	}
}
