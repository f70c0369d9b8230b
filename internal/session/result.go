package session

import (
	"time"

	"github.com/stemsi/exstem-assess/internal/assessment"
)

// Result is the complete record of one scored attempt.
type Result struct {
	InteractionID string    `json:"interaction_id"`
	StudentID     string    `json:"student_id"`
	Version       string    `json:"version"`
	Course        string    `json:"course"`
	Unit          int       `json:"unit"`
	Type          string    `json:"type"`
	Serial        int64     `json:"serial"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Proctored     bool      `json:"proctored"`

	Answers  []AnswerRecord `json:"answers"`
	Subtests []SubtestScore `json:"subtests"`
	Rules    []RuleResult   `json:"rules"`

	Score        *int     `json:"score,omitempty"`
	Mastery      *int     `json:"mastery,omitempty"`
	Passed       bool     `json:"passed"`
	HowValidated string   `json:"how_validated,omitempty"`
	Grants       []Grant  `json:"grants,omitempty"`
	Denials      []Denial `json:"denials,omitempty"`
	Licensed     bool     `json:"licensed"`

	GradingErrors []string `json:"grading_errors,omitempty"`
}

type AnswerRecord struct {
	ItemID   int                 `json:"item_id"`
	Ref      string              `json:"ref"`
	Response assessment.Response `json:"response,omitempty"`
	Correct  bool                `json:"correct"`
	Score    float64             `json:"score"`
}

type SubtestScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type RuleResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Grant is an awarded placement or credit.
type Grant struct {
	Kind         assessment.ActionKind `json:"kind"`
	Course       string                `json:"course"`
	HowValidated string                `json:"how_validated"`
}

// Denial is an outcome whose condition held but which was refused or
// granted without validation.
type Denial struct {
	Kind   assessment.ActionKind `json:"kind"`
	Course string                `json:"course"`
	Reason string                `json:"reason"`
}

// Missed lists the item IDs answered incorrectly or not at all.
func (r *Result) Missed() []int {
	var out []int
	for _, a := range r.Answers {
		if !a.Correct {
			out = append(out, a.ItemID)
		}
	}
	return out
}

// SubtestScore returns the named subtest score.
func (r *Result) SubtestScore(name string) (int, bool) {
	for _, s := range r.Subtests {
		if s.Name == name {
			return s.Score, true
		}
	}
	return 0, false
}
