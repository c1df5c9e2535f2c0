package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/risa-org/quizlink/session"
)

// Store is a file-backed implementation of client.ResumeStore.
// Tokens are persisted to a JSON file so a new process can resume a game
// the previous one was playing. Not suitable for several processes
// writing the same file.
type Store struct {
	mu     sync.RWMutex
	path   string
	tokens map[string]session.ResumeToken
}

// New creates a file-backed store at the given path.
// If the file exists, tokens are loaded from it on startup.
// If it doesn't exist, it will be created on first write.
func New(path string) (*Store, error) {
	s := &Store{
		path:   path,
		tokens: make(map[string]session.ResumeToken),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load resume tokens from %s: %w", path, err)
	}

	return s, nil
}

// Save stores the token for its pin and flushes to disk.
func (s *Store) Save(tok session.ResumeToken) error {
	if err := tok.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	prev, had := s.tokens[tok.Pin]
	s.tokens[tok.Pin] = tok
	err := s.flush()
	if err != nil {
		// keep memory in line with what is on disk
		if had {
			s.tokens[tok.Pin] = prev
		} else {
			delete(s.tokens, tok.Pin)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to persist resume token: %w", err)
	}
	return nil
}

// Get retrieves the token saved for pin from memory.
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

// Delete removes the token for pin and flushes to disk.
func (s *Store) Delete(pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[pin]; !ok {
		return nil
	}
	delete(s.tokens, pin)
	return s.flush()
}

// Count returns the number of tokens currently stored.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// load reads tokens from the JSON file into memory.
// Called once at startup. If the file doesn't exist, returns nil; the store starts empty.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil // fresh start, no file yet
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var records []session.ResumeToken
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}

	for _, r := range records {
		if r.Validate() != nil {
			continue
		}
		s.tokens[r.Pin] = r
	}

	return nil
}

// flush writes the current in-memory state to the JSON file.
// Must be called with the write lock held.
func (s *Store) flush() error {
	records := make([]session.ResumeToken, 0, len(s.tokens))
	for _, tok := range s.tokens {
		records = append(records, tok)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// write to a temp file then rename so readers never see a partial file
	// prevents corrupt file if process crashes mid-write
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
