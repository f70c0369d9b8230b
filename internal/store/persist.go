package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/session"
)

// PersistFileName is the file PersistAll writes inside its directory.
const PersistFileName = "assessment_sessions.xml"

// PersistAll writes every session not yet past its retention window to
// dir. Sessions are listed under the read lock and snapshotted after it
// is released. It returns the number of sessions written.
func (s *Store) PersistAll(dir string) (int, error) {
	now := s.now()
	var recs []*session.Record
	skipped := 0
	for _, sess := range s.list() {
		if sess.PurgeDue(now, s.timing) {
			skipped++
			continue
		}
		recs = append(recs, sess.Record())
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create persist dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, PersistFileName+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create persist file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := session.WriteRecords(tmp, recs); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close persist file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, PersistFileName)); err != nil {
		return 0, fmt.Errorf("rename persist file: %w", err)
	}

	s.log.Info().Int("persisted", len(recs)).Int("skipped", skipped).Str("dir", dir).Msg("Sessions persisted")
	return len(recs), nil
}

// RestoreAll loads sessions written by PersistAll and registers them.
// Records that cannot be rebuilt are logged and skipped. The source file is
// renamed to .bak once read. A missing file restores nothing.
func (s *Store) RestoreAll(dir string, cat assessment.Catalog) ([]*session.Session, error) {
	path := filepath.Join(dir, PersistFileName)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open persist file: %w", err)
	}

	var restored []*session.Session
	readErr := session.ReadRecords(f,
		func(rec *session.Record) {
			sess, err := session.FromRecord(rec, cat, s.log)
			if err != nil {
				s.log.Error().Err(err).
					Str("interaction", rec.Interaction).
					Str("assessment", rec.Assessment).
					Msg("Skipping session record")
				return
			}
			restored = append(restored, sess)
		},
		func(err error) {
			s.log.Error().Err(err).Msg("Skipping unreadable session record")
		},
	)
	f.Close()
	if readErr != nil {
		s.log.Error().Err(readErr).Int("restored", len(restored)).Msg("Session file truncated or corrupt")
	}

	s.mu.Lock()
	for _, sess := range restored {
		s.insertLocked(sess)
	}
	s.mu.Unlock()
	s.log.Info().Int("restored", len(restored)).Msg("Sessions restored")

	// Sessions are registered before archiving; the next PersistAll
	// writes them back even if the rename below fails.
	bak := path + ".bak"
	if err := os.Remove(bak); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn().Err(err).Msg("Could not remove old session backup")
	}
	if err := os.Rename(path, bak); err != nil {
		return restored, fmt.Errorf("archive persist file: %w", err)
	}
	return restored, nil
}
