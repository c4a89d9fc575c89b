package model

import (
	"errors"
	"testing"
	"time"

	matchmodel "codeduel/internal/match/model"
)

func problem() *matchmodel.Problem {
	return &matchmodel.Problem{
		ID: "p1",
		TestCases: matchmodel.TestCases{
			{Input: "1", ExpectedOutput: "1"},
			{Input: "2", ExpectedOutput: "2"},
			{Input: "3", ExpectedOutput: "3", IsHidden: true},
		},
	}
}

func TestRequestsSelectCases(t *testing.T) {
	src := Source{MatchID: "m", PlayerID: "p", Language: "go", Code: "x"}
	now := time.UnixMilli(1700000000123)

	run := NewJob(RunRequest{Src: src}, problem(), now)
	if run.Mode != ModeRun || len(run.TestCases) != 2 || !run.IsRun() {
		t.Fatalf("unexpected run job: %+v", run)
	}
	submit := NewJob(SubmitRequest{Src: src}, problem(), now)
	if submit.Mode != ModeSubmit || len(submit.TestCases) != 3 {
		t.Fatalf("unexpected submit job: %+v", submit)
	}
	if submit.ID != "m-p-1700000000123" {
		t.Fatalf("unexpected job id: %s", submit.ID)
	}
}

func TestAggregateSummaries(t *testing.T) {
	job := NewJob(SubmitRequest{Src: Source{MatchID: "m", PlayerID: "p"}}, problem(), time.Now())
	boom := "boom"

	pass := []CaseResult{{Passed: true, ExecutionTime: 5}, {Passed: true, ExecutionTime: 7}, {Passed: true, ExecutionTime: 1}}
	res := Aggregate(&job, pass)
	if !res.Success || res.Output != "All 3 tests passed!" || res.ExecutionTime != 13 || !res.Solved() {
		t.Fatalf("unexpected full pass: %+v", res)
	}

	wrong := []CaseResult{{Passed: true}, {Input: "2", ExpectedOutput: "2", ActualOutput: "4"}, {Passed: true}}
	res = Aggregate(&job, wrong)
	if res.Success || res.Output != "Test failed:\nInput: 2\nExpected: 2\nGot: 4" {
		t.Fatalf("unexpected wrong answer summary: %q", res.Output)
	}

	errored := []CaseResult{{Passed: true}, {Error: &boom}, {Passed: true}}
	res = Aggregate(&job, errored)
	if res.Output != "Error: boom" || res.Error == nil || *res.Error != "boom" || res.Solved() {
		t.Fatalf("unexpected error summary: %+v", res)
	}
}

func TestAggregateWithholdsHiddenCases(t *testing.T) {
	job := NewJob(SubmitRequest{Src: Source{MatchID: "m", PlayerID: "p"}}, problem(), time.Now())
	cases := []CaseResult{
		{Input: "1", ExpectedOutput: "1", ActualOutput: "1", Passed: true},
		{Input: "2", ExpectedOutput: "2", ActualOutput: "2", Passed: true},
		{Input: "3", ExpectedOutput: "3", ActualOutput: "9", Hidden: true},
	}
	res := Aggregate(&job, cases)
	if res.Output != "Hidden test 3 failed" {
		t.Fatalf("unexpected summary: %q", res.Output)
	}
	hidden := res.TestResults[2]
	if hidden.Input != "" || hidden.ExpectedOutput != "" || hidden.ActualOutput != "" || !hidden.Hidden {
		t.Fatalf("hidden case leaked: %+v", hidden)
	}
	if res.TestResults[0].Input != "1" || res.TestResults[0].ActualOutput != "1" {
		t.Fatalf("visible case must stay intact: %+v", res.TestResults[0])
	}
}

func TestRunNeverSolves(t *testing.T) {
	job := NewJob(RunRequest{Src: Source{MatchID: "m", PlayerID: "p"}}, problem(), time.Now())
	res := Aggregate(&job, []CaseResult{{Passed: true}, {Passed: true}})
	if !res.Success || res.Solved() {
		t.Fatalf("a run must never solve a match: %+v", res)
	}
}

func TestFailedResult(t *testing.T) {
	job := NewJob(SubmitRequest{Src: Source{MatchID: "m", PlayerID: "p"}}, problem(), time.Now())
	res := FailedResult(&job, errors.New("sandbox down"), 40*time.Millisecond)
	if res.Success || res.TestsPassed != 0 || res.TestsTotal != 3 || *res.Error != "sandbox down" || res.ExecutionTime != 40 {
		t.Fatalf("unexpected failed result: %+v", res)
	}
}
