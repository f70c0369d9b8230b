// Package store is the process-wide registry of live assessment sessions.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/session"
)

var ErrUnknownInteraction = errors.New("interaction has no live sessions")

// DefaultCodePruneInterval bounds how often stale codes are swept.
const DefaultCodePruneInterval = 2 * time.Minute

// Liveness reports whether an interaction is still live. It is called
// without the store lock held and may block.
type Liveness func(ctx context.Context, interactionID string) bool

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLiveness sets the check used when pruning handoff codes.
func WithLiveness(l Liveness) Option { return func(s *Store) { s.live = l } }

// WithCodePruneInterval sets the minimum time between code prunes.
func WithCodePruneInterval(d time.Duration) Option {
	return func(s *Store) { s.pruneInterval = d }
}

// Store maps interaction → assessment → session, plus student and code
// lookups. All structural changes hold mu for writing.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]*session.Session
	byStudent map[string]string
	codes     map[string]string // code → interaction
	codeOf    map[string]string // interaction → code
	lastPrune time.Time

	timing        session.Timing
	pruneInterval time.Duration
	live          Liveness
	now           func() time.Time
	log           zerolog.Logger
}

// New creates an empty Store.
func New(timing session.Timing, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		sessions:      make(map[string]map[string]*session.Session),
		byStudent:     make(map[string]string),
		codes:         make(map[string]string),
		codeOf:        make(map[string]string),
		timing:        timing,
		pruneInterval: DefaultCodePruneInterval,
		now:           time.Now,
		log:           log.With().Str("component", "session_store").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.live == nil {
		s.live = func(_ context.Context, id string) bool { return s.HasInteraction(id) }
	}
	return s
}

// Get returns the session for (interaction, assessment).
func (s *Store) Get(interactionID, assessmentID string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[interactionID][assessmentID]
	return sess, ok
}

// Put registers sess and makes its interaction the student's most recent.
// A session that has already timed out is not inserted.
func (s *Store) Put(sess *session.Session) bool {
	if sess.TimedOut(s.now(), s.timing) {
		s.log.Info().
			Str("interaction", sess.InteractionID()).
			Str("assessment", sess.AssessmentID()).
			Msg("Not storing timed-out session")
		return false
	}
	s.mu.Lock()
	s.insertLocked(sess)
	s.mu.Unlock()
	return true
}

// PutIfAbsent registers sess unless the slot is taken, returning whichever
// session ends up stored. It returns nil when sess has already timed out.
func (s *Store) PutIfAbsent(sess *session.Session) (*session.Session, bool) {
	if sess.TimedOut(s.now(), s.timing) {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[sess.InteractionID()][sess.AssessmentID()]; ok {
		return cur, false
	}
	s.insertLocked(sess)
	return sess, true
}

func (s *Store) insertLocked(sess *session.Session) {
	inner, ok := s.sessions[sess.InteractionID()]
	if !ok {
		inner = make(map[string]*session.Session)
		s.sessions[sess.InteractionID()] = inner
	}
	inner[sess.AssessmentID()] = sess
	s.byStudent[sess.StudentID()] = sess.InteractionID()
}

// Remove deletes the session and returns it, or nil if absent.
func (s *Store) Remove(interactionID, assessmentID string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(interactionID, assessmentID)
}

// removeLocked drops the session. When it was the last one for its
// interaction the code and student mappings go with it.
func (s *Store) removeLocked(interactionID, assessmentID string) *session.Session {
	inner, ok := s.sessions[interactionID]
	if !ok {
		return nil
	}
	sess, ok := inner[assessmentID]
	if !ok {
		return nil
	}
	delete(inner, assessmentID)
	if len(inner) > 0 {
		return sess
	}
	delete(s.sessions, interactionID)
	if code, ok := s.codeOf[interactionID]; ok {
		delete(s.codes, code)
		delete(s.codeOf, interactionID)
	}
	if s.byStudent[sess.StudentID()] == interactionID {
		delete(s.byStudent, sess.StudentID())
	}
	return sess
}

// HasInteraction reports whether the interaction holds any session.
func (s *Store) HasInteraction(interactionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[interactionID]) > 0
}

// ForInteraction lists the sessions of one interaction.
func (s *Store) ForInteraction(interactionID string) []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.Session, 0, len(s.sessions[interactionID]))
	for _, sess := range s.sessions[interactionID] {
		out = append(out, sess)
	}
	return out
}

// LookupStudent returns the student's most recent interaction.
func (s *Store) LookupStudent(studentID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byStudent[studentID]
	return id, ok
}

// Len counts live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, inner := range s.sessions {
		n += len(inner)
	}
	return n
}

// Snapshot summarizes every session, ordered by interaction then assessment.
// Sessions are summarized after the store lock is released.
func (s *Store) Snapshot() []session.Summary {
	list := s.list()
	out := make([]session.Summary, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InteractionID != out[j].InteractionID {
			return out[i].InteractionID < out[j].InteractionID
		}
		return out[i].AssessmentID < out[j].AssessmentID
	})
	return out
}

// list copies the registered sessions under the read lock. Callers take
// session locks only after it returns; a session may be held for the
// length of a database write.
func (s *Store) list() []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Session
	for _, inner := range s.sessions {
		for _, sess := range inner {
			out = append(out, sess)
		}
	}
	return out
}

// removeIfCurrentLocked removes sess only if it still occupies its slot.
func (s *Store) removeIfCurrentLocked(sess *session.Session) bool {
	if s.sessions[sess.InteractionID()][sess.AssessmentID()] != sess {
		return false
	}
	s.removeLocked(sess.InteractionID(), sess.AssessmentID())
	return true
}
