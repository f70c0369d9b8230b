// Package session runs one student's attempt at an assessment: the state
// machine, deadline enforcement, scoring and outcome awarding.
package session

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-assess/internal/assessment"
)

// Timing holds the expiry windows shared by sessions and the store.
type Timing struct {
	// IdleBound expires a session that sat on the instructions page
	// without a deadline.
	IdleBound time.Duration
	// Retention keeps a timed-out session around before purging it.
	Retention time.Duration
}

// DefaultTiming is one hour idle and ten minutes retention.
var DefaultTiming = Timing{IdleBound: time.Hour, Retention: 10 * time.Minute}

// Action is one request against a session. PostedItem and Response carry
// the answer submitted from an item view.
type Action struct {
	Kind       ActionKind
	Index      int
	PostedItem *int
	Response   assessment.Response
}

// Session is one (interaction, assessment) attempt. All methods are safe
// for concurrent use; actions are applied one at a time.
type Session struct {
	mu sync.Mutex

	interactionID string
	studentID     string
	doc           *assessment.Document

	redirect             string
	state                State
	started              bool
	scored               bool
	proctored            bool
	deadline             time.Time
	instructionsViewedAt time.Time
	timeLimitFactor      float64
	gradingError         string
	score                *int
	mastery              *int
	passed               *bool
	holds                []string
	realized             *assessment.Realized
	result               *Result
}

// New creates a session in the Initial state.
func New(interactionID, studentID string, doc *assessment.Document, redirect string) *Session {
	return &Session{
		interactionID: interactionID,
		studentID:     studentID,
		doc:           doc,
		redirect:      redirect,
		state:         Initial{},
	}
}

func (s *Session) InteractionID() string          { return s.interactionID }
func (s *Session) StudentID() string              { return s.studentID }
func (s *Session) AssessmentID() string           { return s.doc.Version }
func (s *Session) Document() *assessment.Document { return s.doc }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deadline returns the deadline, zero when unset.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Result returns the scoring result, nil until scored in this process.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// MarkProctored records that a proctor confirmed this attempt.
func (s *Session) MarkProctored() {
	s.mu.Lock()
	s.proctored = true
	s.mu.Unlock()
}

// TimedOut reports whether the session is past its deadline, or has idled
// on the instructions past t.IdleBound without one.
func (s *Session) TimedOut(now time.Time, t Timing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedOutLocked(now, t)
}

func (s *Session) timedOutLocked(now time.Time, t Timing) bool {
	if !s.deadline.IsZero() {
		return !now.Before(s.deadline)
	}
	return !s.instructionsViewedAt.IsZero() && now.After(s.instructionsViewedAt.Add(t.IdleBound))
}

// PurgeDue reports whether the session is past its retention window.
func (s *Session) PurgeDue(now time.Time, t Timing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.deadline.IsZero() {
		return !now.Before(s.deadline.Add(t.Retention))
	}
	return !s.instructionsViewedAt.IsZero() && now.After(s.instructionsViewedAt.Add(t.IdleBound+t.Retention))
}

// Summary is a read-only snapshot used by administrative listings.
type Summary struct {
	InteractionID string    `json:"interaction_id"`
	StudentID     string    `json:"student_id"`
	AssessmentID  string    `json:"assessment_id"`
	State         string    `json:"state"`
	CurrentItem   int       `json:"current_item"`
	Started       bool      `json:"started"`
	Proctored     bool      `json:"proctored"`
	Deadline      time.Time `json:"deadline,omitempty"`
	Score         *int      `json:"score,omitempty"`
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		InteractionID: s.interactionID,
		StudentID:     s.studentID,
		AssessmentID:  s.doc.Version,
		State:         StateName(s.state),
		CurrentItem:   CurrentItem(s.state),
		Started:       s.started,
		Proctored:     s.proctored,
		Deadline:      s.deadline,
		Score:         s.score,
	}
}
