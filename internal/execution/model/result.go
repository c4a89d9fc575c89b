package model

import (
	"fmt"
	"time"
)

// CaseResult is the outcome of one test case. Hidden cases carry no input
// or output once aggregated.
type CaseResult struct {
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expectedOutput"`
	ActualOutput   string  `json:"actualOutput"`
	Passed         bool    `json:"passed"`
	Hidden         bool    `json:"isHidden,omitempty"`
	ExecutionTime  int64   `json:"executionTime"`
	Error          *string `json:"error"`
}

// Result is the outcome of one job, delivered once per job.
type Result struct {
	JobID         string       `json:"jobId"`
	MatchID       string       `json:"matchId"`
	PlayerID      string       `json:"playerId"`
	Mode          Mode         `json:"mode"`
	Success       bool         `json:"success"`
	Output        string       `json:"output"`
	Error         *string      `json:"error"`
	ExecutionTime int64        `json:"executionTime"`
	TestsPassed   int          `json:"testsPassed"`
	TestsTotal    int          `json:"testsTotal"`
	TestResults   []CaseResult `json:"testResults"`
	IsRun         bool         `json:"isRun"`
}

// Solved reports whether a submit result wins the match.
func (r *Result) Solved() bool {
	return r.Mode == ModeSubmit && r.Success && r.TestsTotal > 0 && r.TestsPassed == r.TestsTotal
}

// Aggregate folds per-case results into the job result.
func Aggregate(job *Job, cases []CaseResult) Result {
	res := Result{
		JobID:       job.ID,
		MatchID:     job.MatchID,
		PlayerID:    job.PlayerID,
		Mode:        job.Mode,
		TestsTotal:  len(job.TestCases),
		TestResults: cases,
		IsRun:       job.IsRun(),
	}
	for i := range cases {
		if cases[i].Passed {
			res.TestsPassed++
		}
		res.ExecutionTime += cases[i].ExecutionTime
		if res.Error == nil && cases[i].Error != nil {
			res.Error = cases[i].Error
		}
	}
	res.Success = res.TestsPassed == res.TestsTotal
	res.Output = summarize(res.Success, res.TestsPassed, cases)
	redactHidden(cases)
	return res
}

func redactHidden(cases []CaseResult) {
	for i := range cases {
		if cases[i].Hidden {
			cases[i].Input = ""
			cases[i].ExpectedOutput = ""
			cases[i].ActualOutput = ""
		}
	}
}

func summarize(success bool, passed int, cases []CaseResult) string {
	if success {
		return fmt.Sprintf("All %d tests passed!", passed)
	}
	for i := range cases {
		c := cases[i]
		if c.Passed {
			continue
		}
		if c.Error != nil {
			return "Error: " + *c.Error
		}
		if c.Hidden {
			return fmt.Sprintf("Hidden test %d failed", i+1)
		}
		return fmt.Sprintf("Test failed:\nInput: %s\nExpected: %s\nGot: %s", c.Input, c.ExpectedOutput, c.ActualOutput)
	}
	return ""
}

// FailedResult is the result reported when a job could not be processed at all.
func FailedResult(job *Job, err error, elapsed time.Duration) Result {
	msg := err.Error()
	return Result{
		JobID:         job.ID,
		MatchID:       job.MatchID,
		PlayerID:      job.PlayerID,
		Mode:          job.Mode,
		Error:         &msg,
		ExecutionTime: elapsed.Milliseconds(),
		TestsTotal:    len(job.TestCases),
		TestResults:   []CaseResult{},
		IsRun:         job.IsRun(),
	}
}
