package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/session"
	"github.com/stemsi/exstem-assess/internal/store"
)

// StudentCompletionLimit caps the completions listed per student lookup.
const StudentCompletionLimit = 20

var (
	ErrNoActiveSession    = errors.New("no active session for this assessment")
	ErrProctorCodeUnknown = errors.New("proctor code not found")
)

// DocumentSource resolves an assessment version.
type DocumentSource interface {
	Document(ctx context.Context, version string) (*assessment.Document, error)
}

// CompletionQueue re-drives results whose recording failed.
type CompletionQueue interface {
	EnqueueCompletion(ctx context.Context, res *session.Result) error
}

// EventPublisher receives live session changes.
type EventPublisher interface {
	Publish(ctx context.Context, ev MonitorEvent)
}

// CompletionLister lists a student's recorded attempts.
type CompletionLister interface {
	ListByStudent(ctx context.Context, studentID string, limit int) ([]model.CompletionSummary, error)
}

// AssessmentService ties the session engine to the session store for
// student and admin requests.
type AssessmentService struct {
	store       *store.Store
	engine      *session.Engine
	docs        DocumentSource
	queue       CompletionQueue
	events      EventPublisher
	completions CompletionLister
	now         func() time.Time
	log         zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(
	st *store.Store,
	engine *session.Engine,
	docs DocumentSource,
	queue CompletionQueue,
	events EventPublisher,
	completions CompletionLister,
	log zerolog.Logger,
) *AssessmentService {
	return &AssessmentService{
		store:       st,
		engine:      engine,
		docs:        docs,
		queue:       queue,
		events:      events,
		completions: completions,
		now:         time.Now,
		log:         log.With().Str("component", "assessment_service").Logger(),
	}
}

// Open returns the student's session for assessmentID, creating and
// starting it on first access. An ineligible student gets the rendered
// refusal together with a *session.IneligibleError and nothing is stored.
func (s *AssessmentService) Open(ctx context.Context, studentID, interactionID, assessmentID, redirect string) (session.View, error) {
	now := s.now()
	render := session.Action{Kind: session.ActRender}

	if sess, ok := s.store.Get(interactionID, assessmentID); ok {
		if sess.StudentID() != studentID {
			return session.View{}, ErrNoActiveSession
		}
		return s.apply(ctx, sess, render, now)
	}

	doc, err := s.docs.Document(ctx, assessmentID)
	if err != nil {
		return session.View{}, err
	}

	sess := session.New(interactionID, studentID, doc, redirect)
	view, err := s.engine.Process(ctx, sess, render, now)
	if err != nil {
		return view, err
	}
	if _, ok := sess.State().(session.Initial); ok {
		return view, nil
	}

	stored, inserted := s.store.PutIfAbsent(sess)
	switch {
	case stored == nil:
		return view, nil
	case !inserted:
		return s.apply(ctx, stored, render, now)
	}

	s.publish(ctx, EventOpened, sess, now)
	return view, nil
}

// Act applies one student request to a stored session. An unknown action
// is logged and the current state is rendered again.
func (s *AssessmentService) Act(ctx context.Context, studentID, interactionID, assessmentID string, req model.ActionRequest) (session.View, error) {
	sess, ok := s.store.Get(interactionID, assessmentID)
	if !ok || sess.StudentID() != studentID {
		return session.View{}, ErrNoActiveSession
	}

	a := session.Action{Kind: session.ActRender}
	kind, err := session.ParseActionKind(req.Action)
	if err != nil {
		s.log.Warn().Err(err).
			Str("interaction", interactionID).
			Str("assessment", assessmentID).
			Msg("Ignoring unknown action")
	} else {
		a = session.Action{
			Kind:       kind,
			Index:      req.Index,
			PostedItem: req.PostedItem,
			Response:   assessment.Response(req.Response),
		}
	}
	return s.apply(ctx, sess, a, s.now())
}

func (s *AssessmentService) apply(ctx context.Context, sess *session.Session, a session.Action, now time.Time) (session.View, error) {
	before := session.StateName(sess.State())

	view, err := s.engine.Process(ctx, sess, a, now)
	if _, err = s.settle(ctx, err); err != nil {
		return view, err
	}

	switch {
	case view.Closed:
		s.store.Remove(sess.InteractionID(), sess.AssessmentID())
		s.publish(ctx, EventClosed, sess, now)
	case view.State == session.StateName(session.Completed{}) && before != view.State:
		s.publish(ctx, EventCompleted, sess, now)
	case a.Kind != session.ActRender:
		s.publish(ctx, EventAction, sess, now)
	}
	return view, nil
}

// settle hands a failed recording to the retry queue. It reports whether
// the result was queued and returns any error that still needs handling.
func (s *AssessmentService) settle(ctx context.Context, err error) (bool, error) {
	var recErr *session.RecordError
	if !errors.As(err, &recErr) {
		return false, err
	}
	if qerr := s.queue.EnqueueCompletion(ctx, recErr.Result); qerr != nil {
		s.log.Error().Err(qerr).
			Str("student_id", recErr.Result.StudentID).
			Str("version", recErr.Result.Version).
			Msg("Failed to queue completion for retry")
		return false, err
	}
	return true, nil
}

func (s *AssessmentService) publish(ctx context.Context, typ string, sess *session.Session, now time.Time) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, EventFromSummary(typ, sess.Summary(), now))
}

// IssueProctorCode returns the handoff code of the caller's interaction.
func (s *AssessmentService) IssueProctorCode(ctx context.Context, interactionID string) (string, error) {
	code, err := s.store.IssueCode(ctx, interactionID)
	if errors.Is(err, store.ErrUnknownInteraction) {
		return "", ErrNoActiveSession
	}
	return code, err
}

// ResolveProctorCode resolves a handoff code and marks every session of
// its interaction as proctored.
func (s *AssessmentService) ResolveProctorCode(code string) (model.ProctorCodeLookup, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	id, ok := s.store.LookupCode(code)
	if !ok {
		return model.ProctorCodeLookup{}, ErrProctorCodeUnknown
	}
	out := model.ProctorCodeLookup{Code: code, InteractionID: id}
	for _, sess := range s.store.ForInteraction(id) {
		sess.MarkProctored()
		out.StudentID = sess.StudentID()
	}
	s.log.Info().Str("interaction", id).Str("student", out.StudentID).Msg("Interaction proctored")
	return out, nil
}

// ListSessions filters and pages the live sessions.
func (s *AssessmentService) ListSessions(q model.SessionListQuery) ([]session.Summary, int) {
	all := s.store.Snapshot()
	filtered := all[:0]
	for _, sum := range all {
		if q.AssessmentID != "" && sum.AssessmentID != q.AssessmentID {
			continue
		}
		if q.State != "" && sum.State != q.State {
			continue
		}
		filtered = append(filtered, sum)
	}

	total := len(filtered)
	start := (q.Page - 1) * q.PerPage
	if start >= total {
		return []session.Summary{}, total
	}
	end := min(start+q.PerPage, total)
	return filtered[start:end], total
}

// ForceSubmit scores a live session on an administrator's behalf and
// removes it from the store.
func (s *AssessmentService) ForceSubmit(ctx context.Context, interactionID, assessmentID string) (model.ForceResult, error) {
	out := model.ForceResult{InteractionID: interactionID, AssessmentID: assessmentID, Action: "force_submit"}
	sess, ok := s.store.Get(interactionID, assessmentID)
	if !ok {
		return out, ErrNoActiveSession
	}

	now := s.now()
	res, err := s.engine.ForceSubmit(ctx, sess, session.RoleAdministrator, now)
	queued, err := s.settle(ctx, err)
	if err != nil && !errors.Is(err, session.ErrRecordFailed) {
		return out, fmt.Errorf("force submit: %w", err)
	}
	s.store.Remove(interactionID, assessmentID)
	s.publish(ctx, EventForced, sess, now)

	if res != nil {
		out.Result = res
	}
	switch {
	case queued:
		out.Warning = "completion could not be recorded and was queued for retry"
	case err != nil:
		out.Warning = "completion could not be recorded"
	}
	return out, nil
}

// ForceAbort discards a live session on an administrator's behalf.
func (s *AssessmentService) ForceAbort(ctx context.Context, interactionID, assessmentID string) (model.ForceResult, error) {
	out := model.ForceResult{InteractionID: interactionID, AssessmentID: assessmentID, Action: "force_abort"}
	sess, ok := s.store.Get(interactionID, assessmentID)
	if !ok {
		return out, ErrNoActiveSession
	}
	if err := s.engine.ForceAbort(ctx, sess, session.RoleAdministrator); err != nil {
		return out, fmt.Errorf("force abort: %w", err)
	}
	s.store.Remove(interactionID, assessmentID)
	s.publish(ctx, EventForced, sess, s.now())
	return out, nil
}

// StudentInteraction reports the student's live interaction and recent
// completions.
func (s *AssessmentService) StudentInteraction(ctx context.Context, studentID string) (model.StudentInteraction, error) {
	out := model.StudentInteraction{StudentID: studentID, Sessions: []session.Summary{}}
	if id, ok := s.store.LookupStudent(studentID); ok {
		out.InteractionID = id
		for _, sess := range s.store.ForInteraction(id) {
			out.Sessions = append(out.Sessions, sess.Summary())
		}
		sort.Slice(out.Sessions, func(i, j int) bool {
			return out.Sessions[i].AssessmentID < out.Sessions[j].AssessmentID
		})
	}

	completions, err := s.completions.ListByStudent(ctx, studentID, StudentCompletionLimit)
	if err != nil {
		return out, fmt.Errorf("list completions: %w", err)
	}
	if completions == nil {
		completions = []model.CompletionSummary{}
	}
	out.Completions = completions
	return out, nil
}

// Sweep purges expired sessions, scoring the ones still in progress.
func (s *AssessmentService) Sweep(ctx context.Context) int {
	purged := s.store.PurgeExpired(ctx, s.engine)
	now := s.now()
	for _, p := range purged {
		if _, err := s.settle(ctx, p.Err); err != nil {
			s.log.Error().Err(err).
				Str("interaction", p.Session.InteractionID()).
				Str("assessment", p.Session.AssessmentID()).
				Msg("Expired session could not be finalized")
		}
		s.publish(ctx, EventPurged, p.Session, now)
	}
	return len(purged)
}

// Snapshot summarizes the live sessions of one assessment.
func (s *AssessmentService) Snapshot(assessmentID string) []session.Summary {
	out, _ := s.ListSessions(model.SessionListQuery{AssessmentID: assessmentID, Page: 1, PerPage: s.store.Len() + 1})
	return out
}
