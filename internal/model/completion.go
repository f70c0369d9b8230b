package model

import "time"

// CompletionSummary is one recorded attempt as listed to administrators.
type CompletionSummary struct {
	ID            int64     `json:"id"`
	InteractionID string    `json:"interaction_id"`
	StudentID     string    `json:"student_id"`
	Version       string    `json:"version"`
	Course        string    `json:"course"`
	Unit          int       `json:"unit"`
	Type          string    `json:"type"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Score         *int      `json:"score,omitempty"`
	Mastery       *int      `json:"mastery,omitempty"`
	Passed        bool      `json:"passed"`
	HowValidated  string    `json:"how_validated,omitempty"`
	Licensed      bool      `json:"licensed"`
}
