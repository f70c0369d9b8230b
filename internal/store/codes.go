package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts = 32
)

// IssueCode returns the interaction's handoff code, creating one on first
// use. Repeated calls return the same code until the interaction ends or
// the code is pruned.
func (s *Store) IssueCode(ctx context.Context, interactionID string) (string, error) {
	s.mu.RLock()
	code, ok := s.codeOf[interactionID]
	s.mu.RUnlock()
	if ok {
		return code, nil
	}

	s.pruneCodes(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.codeOf[interactionID]; ok {
		return code, nil
	}
	if len(s.sessions[interactionID]) == 0 {
		return "", ErrUnknownInteraction
	}
	for range codeAttempts {
		code := newCode()
		if _, taken := s.codes[code]; taken {
			continue
		}
		s.codes[code] = interactionID
		s.codeOf[interactionID] = code
		s.log.Debug().Str("interaction", interactionID).Str("code", code).Msg("Issued handoff code")
		return code, nil
	}
	return "", fmt.Errorf("issue code for %s: no free code after %d attempts", interactionID, codeAttempts)
}

// LookupCode resolves a handoff code to its interaction.
func (s *Store) LookupCode(code string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	return id, ok
}

// pruneCodes drops codes whose interaction is no longer live. It runs at
// most once per prune interval; liveness is checked outside the lock.
func (s *Store) pruneCodes(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < s.pruneInterval {
		s.mu.Unlock()
		return
	}
	s.lastPrune = now
	candidates := make(map[string]string, len(s.codes))
	for code, id := range s.codes {
		candidates[code] = id
	}
	s.mu.Unlock()

	var dead []string
	for code, id := range candidates {
		if !s.live(ctx, id) {
			dead = append(dead, code)
		}
	}
	if len(dead) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, code := range dead {
		id, ok := s.codes[code]
		if !ok || id != candidates[code] {
			continue
		}
		delete(s.codes, code)
		delete(s.codeOf, id)
	}
	s.log.Debug().Int("pruned", len(dead)).Msg("Pruned handoff codes")
}

func newCode() string {
	id := uuid.New()
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[int(id[i])%len(codeAlphabet)]
	}
	return string(b)
}
