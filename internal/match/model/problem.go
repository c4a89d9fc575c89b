package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Difficulty grades a problem.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Valid reports whether d is one of the known grades.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// TestCase is one stdin/stdout pair of a problem.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	IsHidden       bool   `json:"isHidden,omitempty"`
}

// TestCases is stored as a JSON column.
type TestCases []TestCase

func (tc TestCases) Value() (driver.Value, error) {
	if tc == nil {
		return "[]", nil
	}
	data, err := json.Marshal(tc)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (tc *TestCases) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*tc = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported test_cases type %T", src)
	}
	return json.Unmarshal(data, tc)
}

// Visible returns the cases shown to players.
func (tc TestCases) Visible() TestCases {
	out := make(TestCases, 0, len(tc))
	for _, c := range tc {
		if !c.IsHidden {
			out = append(out, c)
		}
	}
	return out
}

// Problem is an immutable coding task.
type Problem struct {
	ID          string     `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Difficulty  Difficulty `db:"difficulty" json:"difficulty"`
	TestCases   TestCases  `db:"test_cases" json:"testCases"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// WithoutHidden returns a copy whose test cases exclude hidden ones.
func (p Problem) WithoutHidden() Problem {
	p.TestCases = p.TestCases.Visible()
	return p
}

// WithoutTestCases returns a copy with no test cases at all.
func (p Problem) WithoutTestCases() Problem {
	p.TestCases = TestCases{}
	return p
}
