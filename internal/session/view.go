package session

import (
	"time"

	"github.com/stemsi/exstem-assess/internal/assessment"
)

// View is what a client needs to present the current state.
type View struct {
	InteractionID    string              `json:"interaction_id"`
	AssessmentID     string              `json:"assessment_id"`
	Title            string              `json:"title,omitempty"`
	State            string              `json:"state"`
	Item             int                 `json:"item"`
	ItemID           int                 `json:"item_id,omitempty"`
	ItemCount        int                 `json:"item_count"`
	Answered         []bool              `json:"answered,omitempty"`
	Response         assessment.Response `json:"response,omitempty"`
	Solution         assessment.Response `json:"solution,omitempty"`
	Correct          *bool               `json:"correct,omitempty"`
	RemainingSeconds int64               `json:"remaining_seconds"`
	Started          bool                `json:"started"`
	Score            *int                `json:"score,omitempty"`
	Mastery          *int                `json:"mastery,omitempty"`
	Passed           *bool               `json:"passed,omitempty"`
	GradingError     string              `json:"grading_error,omitempty"`
	Holds            []string            `json:"holds,omitempty"`
	Closed           bool                `json:"closed,omitempty"`
	Redirect         string              `json:"redirect,omitempty"`
}

// View renders the current state without changing it.
func (s *Session) View(now time.Time) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(now)
}

func (s *Session) viewLocked(now time.Time) View {
	v := View{
		InteractionID:    s.interactionID,
		AssessmentID:     s.doc.Version,
		Title:            s.doc.Title,
		State:            StateName(s.state),
		Item:             CurrentItem(s.state),
		RemainingSeconds: -1,
		Started:          s.started,
		Score:            s.score,
		Mastery:          s.mastery,
		Passed:           s.passed,
		GradingError:     s.gradingError,
		Holds:            s.holds,
		Redirect:         s.redirect,
	}
	if !s.deadline.IsZero() {
		v.RemainingSeconds = max(int64(s.deadline.Sub(now).Seconds()), 0)
	}
	if s.realized == nil {
		return v
	}
	v.ItemCount = s.realized.Len()
	v.Answered = s.realized.Answered()

	idx := v.Item
	if idx < 0 || idx >= s.realized.Len() {
		return v
	}
	it := s.realized.Items[idx]
	v.ItemID = it.ItemID
	v.Response = it.Response
	if _, ok := s.state.(Solution); ok {
		v.Solution = it.Template.Solution()
		c := it.Template.IsCorrect(it.Response)
		v.Correct = &c
	}
	return v
}
