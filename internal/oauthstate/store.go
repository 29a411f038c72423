// Package oauthstate holds the short-lived anti-forgery tokens used to
// correlate an authorization redirect with its callback. Tokens are
// single-use and expire after a short TTL; the registry is process-local
// and lost on restart, which only aborts in-flight handshakes.
package oauthstate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const DefaultTTL = 10 * time.Minute

type Store struct {
	mu            sync.Mutex
	ttl           time.Duration
	expiryByToken map[string]time.Time
	now           func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Store{
		ttl:           ttl,
		expiryByToken: make(map[string]time.Time),
		now:           time.Now,
	}
}

// Issue registers and returns a new opaque state token (128 bits, hex).
func (s *Store) Issue() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	token := hex.EncodeToString(b)

	s.mu.Lock()
	s.expiryByToken[token] = s.now().UTC().Add(s.ttl)
	s.mu.Unlock()

	return token, nil
}

// ValidateAndConsume removes the token from the registry and reports whether
// it was present and unexpired. A token is consumed on first lookup whatever
// the outcome, so a replayed state always fails.
func (s *Store) ValidateAndConsume(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.expiryByToken[token]
	if !ok {
		return false
	}
	delete(s.expiryByToken, token)

	return s.now().UTC().Before(expiresAt)
}

// SweepExpired deletes expired unconsumed entries and returns how many were
// removed. Abandoned handshakes otherwise stay in the map until consumed.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, expiresAt := range s.expiryByToken {
		if !now.Before(expiresAt) {
			delete(s.expiryByToken, token)
			removed++
		}
	}

	return removed
}

// Pending returns the number of registered, unconsumed states.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.expiryByToken)
}
