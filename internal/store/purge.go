package store

import (
	"context"
	"time"

	"github.com/stemsi/exstem-assess/internal/session"
)

// Finisher finalizes a session the sweep has removed.
type Finisher interface {
	Expire(ctx context.Context, s *session.Session, now time.Time) (*session.Result, error)
}

// Purged is the outcome of finalizing one swept session.
type Purged struct {
	Session *session.Session
	Result  *session.Result
	Err     error
}

// PurgeExpired removes every session past its retention window, then
// finalizes each through fin. Retention is checked and sessions are
// finalized without the store lock held.
func (s *Store) PurgeExpired(ctx context.Context, fin Finisher) []Purged {
	now := s.now()
	var due []*session.Session
	for _, sess := range s.list() {
		if sess.PurgeDue(now, s.timing) {
			due = append(due, sess)
		}
	}

	s.mu.Lock()
	expired := due[:0]
	for _, sess := range due {
		if s.removeIfCurrentLocked(sess) {
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	out := make([]Purged, 0, len(expired))
	for _, sess := range expired {
		res, err := fin.Expire(ctx, sess, now)
		if err != nil {
			s.log.Error().Err(err).
				Str("interaction", sess.InteractionID()).
				Str("assessment", sess.AssessmentID()).
				Msg("Failed to finalize expired session")
		}
		out = append(out, Purged{Session: sess, Result: res, Err: err})
	}
	if len(expired) > 0 {
		s.log.Info().Int("purged", len(expired)).Msg("Expired sessions purged")
	}
	return out
}
