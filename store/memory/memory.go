package memory

import (
	"sync"

	"github.com/risa-org/quizlink/session"
)

// Store is a thread-safe in-memory implementation of client.ResumeStore.
// Suitable for tests and for clients that only reconnect within one
// process. Tokens are lost on exit.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]session.ResumeToken // keyed by pin
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tokens: make(map[string]session.ResumeToken),
	}
}

// Save stores the token for its pin, replacing any earlier one.
func (s *Store) Save(tok session.ResumeToken) error {
	if err := tok.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tokens[tok.Pin] = tok
	s.mu.Unlock()
	return nil
}

// Get retrieves the token saved for pin.
func (s *Store) Get(pin string) (session.ResumeToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[pin]
	return tok, ok
}

// Latest returns the most recently saved token.
func (s *Store) Latest() (session.ResumeToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest session.ResumeToken
	found := false
	for _, tok := range s.tokens {
		if !found || tok.SavedAt.After(latest.SavedAt) {
			latest, found = tok, true
		}
	}
	return latest, found
}

// Delete removes the token for pin. Deleting an unknown pin is a no-op.
func (s *Store) Delete(pin string) error {
	s.mu.Lock()
	delete(s.tokens, pin)
	s.mu.Unlock()
	return nil
}

// Count returns the number of tokens currently in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
