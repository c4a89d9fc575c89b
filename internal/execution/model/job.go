package model

import (
	"fmt"
	"time"

	matchmodel "codeduel/internal/match/model"
)

// MaxCodeBytes caps the source size accepted for execution.
const MaxCodeBytes = 64 * 1024

// Mode tells whether a job may end the match.
type Mode string

const (
	ModeRun    Mode = "run"
	ModeSubmit Mode = "submit"
)

// Source is the code a player sent for a match.
type Source struct {
	MatchID  string
	PlayerID string
	Language string
	Code     string
}

// ExecutionRequest is either a RunRequest or a SubmitRequest.
type ExecutionRequest interface {
	Mode() Mode
	Source() Source
	// Cases selects the test cases the request is judged against.
	Cases(problem *matchmodel.Problem) matchmodel.TestCases
}

// RunRequest runs the visible cases only and never ends a match.
type RunRequest struct{ Src Source }

func (RunRequest) Mode() Mode { return ModeRun }

func (r RunRequest) Source() Source { return r.Src }

func (RunRequest) Cases(problem *matchmodel.Problem) matchmodel.TestCases {
	return problem.TestCases.Visible()
}

// SubmitRequest runs every case; a full pass wins the match.
type SubmitRequest struct{ Src Source }

func (SubmitRequest) Mode() Mode { return ModeSubmit }

func (r SubmitRequest) Source() Source { return r.Src }

func (SubmitRequest) Cases(problem *matchmodel.Problem) matchmodel.TestCases {
	return problem.TestCases
}

// Job is one queued execution.
type Job struct {
	ID         string               `json:"id"`
	MatchID    string               `json:"matchId"`
	PlayerID   string               `json:"playerId"`
	ProblemID  string               `json:"problemId"`
	Code       string               `json:"code"`
	Language   string               `json:"language"`
	TestCases  matchmodel.TestCases `json:"testCases"`
	Mode       Mode                 `json:"mode"`
	EnqueuedAt time.Time            `json:"enqueuedAt"`
}

// JobID builds the id of a job enqueued at t.
func JobID(matchID, playerID string, t time.Time) string {
	return fmt.Sprintf("%s-%s-%d", matchID, playerID, t.UnixMilli())
}

// NewJob builds the job for req against problem.
func NewJob(req ExecutionRequest, problem *matchmodel.Problem, now time.Time) Job {
	src := req.Source()
	return Job{
		ID:         JobID(src.MatchID, src.PlayerID, now),
		MatchID:    src.MatchID,
		PlayerID:   src.PlayerID,
		ProblemID:  problem.ID,
		Code:       src.Code,
		Language:   src.Language,
		TestCases:  req.Cases(problem),
		Mode:       req.Mode(),
		EnqueuedAt: now,
	}
}

// IsRun reports whether the job is a run.
func (j *Job) IsRun() bool { return j.Mode == ModeRun }
