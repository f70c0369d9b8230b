package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stemsi/exstem-assess/internal/assessment"
)

var (
	ErrForbidden     = errors.New("administrator role required")
	ErrRecordFailed  = errors.New("completion could not be recorded")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidRecord = errors.New("invalid session record")
)

// Role is the marker carried by callers of administrative controls.
type Role string

const (
	RoleStudent       Role = "STUDENT"
	RoleAdministrator Role = "ADMINISTRATOR"
)

// Denial reasons.
const (
	DenialPrerequisite = "P"
	DenialValidation   = "V"
)

// HowValidatedUnvalidated tags grants awarded although no validation passed.
const HowValidatedUnvalidated = "U"

// EligibilityResult is the answer of an eligibility check.
type EligibilityResult struct {
	Allowed         bool
	Reasons         []string
	Holds           []string
	TimeLimitFactor float64
}

// Eligibility decides whether a student may start an assessment.
type Eligibility interface {
	CheckEligible(ctx context.Context, studentID string, doc *assessment.Document, now time.Time) (EligibilityResult, error)
}

// Completion is a previously recorded attempt.
type Completion struct {
	Version   string
	Serial    int64
	StartedAt time.Time
	Answers   []AnswerRecord
}

// Records stores completed attempts and looks up prior ones.
type Records interface {
	RecordCompletion(ctx context.Context, res *Result) error
	PriorCompletions(ctx context.Context, studentID, version string) ([]Completion, error)
	MasteryThreshold(ctx context.Context, studentID string, doc *assessment.Document) (*int, error)
}

// Recovery receives snapshots of sessions that end without being scored.
type Recovery interface {
	WriteRecovery(ctx context.Context, rec *Record, reason string) error
}

// IneligibleError carries the reasons a student may not start.
type IneligibleError struct {
	Reasons []string
	Holds   []string
}

func (e *IneligibleError) Error() string {
	if len(e.Reasons) == 0 {
		return "not eligible"
	}
	return "not eligible: " + strings.Join(e.Reasons, "; ")
}

// RecordError wraps a failed RecordCompletion so the result can be re-driven.
type RecordError struct {
	Result *Result
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record completion for %s/%s: %v", e.Result.StudentID, e.Result.Version, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

func (e *RecordError) Is(target error) bool { return target == ErrRecordFailed }
