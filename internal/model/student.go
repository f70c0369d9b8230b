package model

import (
	"time"

	"github.com/stemsi/exstem-assess/internal/session"
)

// HoldSeverity marks whether a hold blocks testing.
type HoldSeverity string

const (
	HoldSeverityFatal  HoldSeverity = "F"
	HoldSeverityNotice HoldSeverity = "N"
)

// HoldIDTestingAllowed is the one fatal hold that still permits testing.
const HoldIDTestingAllowed = "30"

// Student is the slice of the student record eligibility needs.
type Student struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TimeLimitFactor float64   `json:"time_limit_factor"`
	CreatedAt       time.Time `json:"created_at"`
}

// Hold is an administrative hold on a student record.
type Hold struct {
	HoldID   string       `json:"hold_id"`
	Severity HoldSeverity `json:"severity"`
	Message  string       `json:"message"`
}

// Blocks reports whether the hold prevents the student from testing.
func (h Hold) Blocks() bool {
	return h.Severity == HoldSeverityFatal && h.HoldID != HoldIDTestingAllowed
}

// Term is an academic term.
type Term struct {
	Term      string    `json:"term"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// StudentInteraction is the admin lookup of a student's live interaction.
type StudentInteraction struct {
	StudentID     string              `json:"student_id"`
	InteractionID string              `json:"interaction_id,omitempty"`
	Sessions      []session.Summary   `json:"sessions"`
	Completions   []CompletionSummary `json:"completions"`
}
