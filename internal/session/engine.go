package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/logger"
)

// Deps are the external capabilities a session needs.
type Deps struct {
	Catalog     assessment.Catalog
	Eligibility Eligibility
	Records     Records
	Recovery    Recovery
	// Serial numbers realized documents. Defaults to a random positive int64.
	Serial func() int64
}

// Engine applies actions to sessions.
type Engine struct {
	deps   Deps
	timing Timing
	log    zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, timing Timing, log zerolog.Logger) *Engine {
	if deps.Serial == nil {
		deps.Serial = func() int64 { return rand.Int64N(1<<62) + 1 }
	}
	return &Engine{
		deps:   deps,
		timing: timing,
		log:    log.With().Str("component", "session_engine").Logger(),
	}
}

// Timing returns the engine's expiry windows.
func (e *Engine) Timing() Timing { return e.timing }

func (e *Engine) sessionLog(s *Session) zerolog.Logger {
	return logger.ExamLog(e.log, s.interactionID, s.studentID, s.doc.Version)
}

// Process applies a to s and returns the resulting view. A returned error
// may accompany a valid view: *IneligibleError and *RecordError are
// reported alongside the rendered state.
func (e *Engine) Process(ctx context.Context, s *Session, a Action, now time.Time) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := e.sessionLog(s)

	switch s.state.(type) {
	case Instructions, Item, SubmitConfirm:
		if a.Kind != ActTimeout && s.timedOutLocked(now, e.timing) {
			log.Info().Str("action", a.Kind.String()).Msg("Deadline passed, forcing timeout")
			a = Action{Kind: ActTimeout}
		}
	}

	var err error
	switch st := s.state.(type) {
	case Initial:
		err = e.begin(ctx, s, now, log)
	case Instructions:
		err = e.onInstructions(ctx, s, a, now, log)
	case Item:
		err = e.onItem(ctx, s, st, a, now, log)
	case SubmitConfirm:
		err = e.onSubmitConfirm(ctx, s, st, a, now, log)
	case Completed:
		if a.Kind == ActViewSolutions {
			s.state = Solution{Index: 0}
		} else if a.Kind != ActRender {
			log.Warn().Str("action", a.Kind.String()).Msg("Ignoring action in completed state")
		}
	case Solution:
		closed := e.onSolution(s, st, a, log)
		if closed {
			v := s.viewLocked(now)
			v.Closed = true
			return v, nil
		}
	}
	return s.viewLocked(now), err
}

func (e *Engine) begin(ctx context.Context, s *Session, now time.Time, log zerolog.Logger) error {
	res, err := e.deps.Eligibility.CheckEligible(ctx, s.studentID, s.doc, now)
	if err != nil {
		return fmt.Errorf("check eligibility: %w", err)
	}
	s.holds = res.Holds
	if !res.Allowed {
		log.Info().Strs("reasons", res.Reasons).Msg("Student not eligible")
		return &IneligibleError{Reasons: res.Reasons, Holds: res.Holds}
	}

	autoCorrect := e.lenientItems(ctx, s, log)
	realized, err := assessment.Realize(s.doc, e.deps.Catalog, e.deps.Serial(), stamp(now), autoCorrect)
	if err != nil {
		return err
	}

	mastery, err := e.deps.Records.MasteryThreshold(ctx, s.studentID, s.doc)
	if err != nil {
		log.Warn().Err(err).Msg("Mastery threshold lookup failed, using document default")
		mastery = nil
	}
	if mastery == nil {
		mastery = s.doc.Mastery
	}

	s.realized = realized
	s.mastery = mastery
	s.timeLimitFactor = res.TimeLimitFactor
	s.instructionsViewedAt = stamp(now)
	e.ensureDeadline(s, now)
	s.state = Instructions{}
	log.Info().Int64("serial", realized.Serial).Int("auto_correct", len(autoCorrect)).Msg("Assessment realized")
	return nil
}

// lenientItems finds items answered correctly on at least two prior
// attempts of the same version.
func (e *Engine) lenientItems(ctx context.Context, s *Session, log zerolog.Logger) map[int]bool {
	prior, err := e.deps.Records.PriorCompletions(ctx, s.studentID, s.doc.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Prior completion lookup failed, no repeat leniency")
		return nil
	}
	if len(prior) < 2 {
		return nil
	}
	counts := make(map[int]int)
	for _, c := range prior {
		for _, a := range c.Answers {
			if a.Correct {
				counts[a.ItemID]++
			}
		}
	}
	out := make(map[int]bool)
	for id, n := range counts {
		if n >= 2 {
			out[id] = true
		}
	}
	return out
}

func (e *Engine) startClock(s *Session, now time.Time) {
	s.started = true
	e.ensureDeadline(s, now)
}

// ensureDeadline sets the deadline from the allowed time, scaled by the
// student's time-limit factor, unless one is already set.
func (e *Engine) ensureDeadline(s *Session, now time.Time) {
	if !s.deadline.IsZero() || s.doc.AllowedSeconds <= 0 {
		return
	}
	allowed := time.Duration(s.doc.AllowedSeconds) * time.Second
	if s.timeLimitFactor > 0 {
		allowed = time.Duration(float64(allowed) * s.timeLimitFactor)
	}
	s.deadline = stamp(now.Add(allowed))
}

// stamp drops precision the persisted form and the database cannot keep.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (e *Engine) validIndex(s *Session, i int) bool {
	return s.realized != nil && i >= 0 && i < s.realized.Len()
}

func (e *Engine) onInstructions(ctx context.Context, s *Session, a Action, now time.Time, log zerolog.Logger) error {
	switch a.Kind {
	case ActBegin:
		e.startClock(s, now)
		s.state = Item{Index: 0}
	case ActNavigate:
		if !e.validIndex(s, a.Index) {
			log.Warn().Int("index", a.Index).Msg("Navigation out of range")
			return nil
		}
		e.startClock(s, now)
		s.state = Item{Index: a.Index}
	case ActRequestSubmit:
		s.state = SubmitConfirm{Last: 0}
	case ActTimeout:
		return e.finish(ctx, s, now, log)
	case ActRender:
	default:
		log.Warn().Str("action", a.Kind.String()).Msg("Ignoring action on instructions")
	}
	return nil
}

func (e *Engine) onItem(ctx context.Context, s *Session, st Item, a Action, now time.Time, log zerolog.Logger) error {
	if a.PostedItem != nil {
		if *a.PostedItem == st.Index {
			s.realized.SetResponse(st.Index, a.Response)
		} else {
			log.Warn().Int("posted", *a.PostedItem).Int("current", st.Index).Msg("Discarding answer for stale item")
		}
	}

	switch a.Kind {
	case ActNavigate:
		if !e.validIndex(s, a.Index) {
			log.Warn().Int("index", a.Index).Msg("Navigation out of range")
			return nil
		}
		s.state = Item{Index: a.Index}
	case ActInstructions:
		s.state = Instructions{}
	case ActRequestSubmit:
		s.state = SubmitConfirm{Last: st.Index}
	case ActTimeout:
		return e.finish(ctx, s, now, log)
	case ActRender:
	default:
		log.Warn().Str("action", a.Kind.String()).Msg("Ignoring action on item")
	}
	return nil
}

func (e *Engine) onSubmitConfirm(ctx context.Context, s *Session, st SubmitConfirm, a Action, now time.Time, log zerolog.Logger) error {
	switch a.Kind {
	case ActConfirmNo:
		e.startClock(s, now)
		s.state = Item{Index: st.Last}
	case ActConfirmYes, ActTimeout:
		return e.finish(ctx, s, now, log)
	case ActRender:
	default:
		log.Warn().Str("action", a.Kind.String()).Msg("Ignoring action on submit confirmation")
	}
	return nil
}

func (e *Engine) onSolution(s *Session, st Solution, a Action, log zerolog.Logger) bool {
	switch a.Kind {
	case ActNavigate:
		if !e.validIndex(s, a.Index) {
			log.Warn().Int("index", a.Index).Msg("Navigation out of range")
			return false
		}
		s.state = Solution{Index: a.Index}
	case ActInstructions:
		s.state = Solution{Index: -1}
	case ActClose:
		log.Info().Str("redirect", s.redirect).Msg("Session closed")
		return true
	case ActRender:
	default:
		log.Warn().Str("action", a.Kind.String()).Int("index", st.Index).Msg("Ignoring action on solutions")
	}
	return false
}

// finish scores the session and moves it to Completed.
func (e *Engine) finish(ctx context.Context, s *Session, now time.Time, log zerolog.Logger) error {
	err := e.scoreAndRecord(ctx, s, now, log)
	s.state = Completed{}
	return err
}

// ForceSubmit scores an in-progress session on behalf of an administrator.
func (e *Engine) ForceSubmit(ctx context.Context, s *Session, role Role, now time.Time) (*Result, error) {
	if role != RoleAdministrator {
		return nil, ErrForbidden
	}
	return e.forceSubmit(ctx, s, now, "force_submit")
}

func (e *Engine) forceSubmit(ctx context.Context, s *Session, now time.Time, reason string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := e.sessionLog(s)

	e.writeRecovery(ctx, s, reason, log)
	if s.realized == nil {
		log.Warn().Msg("Force submit of unrealized session, nothing to score")
		return nil, nil
	}
	err := e.finish(ctx, s, now, log)
	log.Info().Str("reason", reason).Msg("Session force-submitted")
	return s.result, err
}

// ForceAbort discards an attempt on behalf of an administrator, keeping
// only a recovery snapshot.
func (e *Engine) ForceAbort(ctx context.Context, s *Session, role Role) error {
	if role != RoleAdministrator {
		return ErrForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := e.sessionLog(s)
	e.writeRecovery(ctx, s, "force_abort", log)
	log.Info().Msg("Session force-aborted")
	return nil
}

// Expire finalizes a session removed by the purge sweep: interacting
// sessions are scored, all others are only snapshotted.
func (e *Engine) Expire(ctx context.Context, s *Session, now time.Time) (*Result, error) {
	if Interacting(s.State()) {
		return e.forceSubmit(ctx, s, now, "expired")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.writeRecovery(ctx, s, "expired", e.sessionLog(s))
	return nil, nil
}

func (e *Engine) writeRecovery(ctx context.Context, s *Session, reason string, log zerolog.Logger) {
	if e.deps.Recovery == nil {
		return
	}
	if err := e.deps.Recovery.WriteRecovery(ctx, s.recordLocked(), reason); err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("Failed to write recovery snapshot")
	}
}

// IsIneligible reports whether err is an eligibility refusal.
func IsIneligible(err error) (*IneligibleError, bool) {
	var ie *IneligibleError
	ok := errors.As(err, &ie)
	return ie, ok
}
