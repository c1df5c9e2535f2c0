package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/risa-org/quizlink/session"
)

// tempPath returns a path inside a per-test directory.
func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "resume.json")
}

func TestSaveAndGet(t *testing.T) {
	store, err := New(tempPath(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Save(session.ResumeToken{Pin: "123456", CID: "c1", PlayerName: "Alice"}); err != nil {
		t.Fatalf("failed to save token: %v", err)
	}

	got, ok := store.Get("123456")
	if !ok {
		t.Fatal("expected to find token after saving it")
	}
	if got.CID != "c1" {
		t.Errorf("expected cid c1, got %s", got.CID)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := tempPath(t)

	store1, err := New(path)
	if err != nil {
		t.Fatalf("failed to create store1: %v", err)
	}

	saved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := session.ResumeToken{Pin: "123456", CID: "c1", PlayerName: "Alice", ParticipantID: "p1", SavedAt: saved}
	if err := store1.Save(tok); err != nil {
		t.Fatalf("failed to save token: %v", err)
	}

	// simulate restart
	store2, err := New(path)
	if err != nil {
		t.Fatalf("failed to create store2: %v", err)
	}

	got, ok := store2.Get("123456")
	if !ok {
		t.Fatal("expected token to survive restart")
	}
	if got.CID != "c1" || got.ParticipantID != "p1" || !got.SavedAt.Equal(saved) {
		t.Errorf("unexpected token after restart %+v", got)
	}
}

func TestDeleteRemovesFromDisk(t *testing.T) {
	path := tempPath(t)

	store1, _ := New(path)
	store1.Save(session.ResumeToken{Pin: "1", CID: "a"})
	if err := store1.Delete("1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// reload: the token should be gone
	store2, _ := New(path)
	if _, ok := store2.Get("1"); ok {
		t.Error("expected deleted token to be gone after reload")
	}
}

func TestCountReflectsPersistedTokens(t *testing.T) {
	path := tempPath(t)

	store1, _ := New(path)
	store1.Save(session.ResumeToken{Pin: "1", CID: "a"})
	store1.Save(session.ResumeToken{Pin: "2", CID: "b"})

	// reload
	store2, _ := New(path)
	if store2.Count() != 2 {
		t.Errorf("expected count 2 after reload, got %d", store2.Count())
	}
}

func TestLatestAfterReload(t *testing.T) {
	path := tempPath(t)
	now := time.Now()

	store1, _ := New(path)
	store1.Save(session.ResumeToken{Pin: "1", CID: "a", SavedAt: now})
	store1.Save(session.ResumeToken{Pin: "2", CID: "b", SavedAt: now.Add(-time.Hour)})

	store2, _ := New(path)
	got, ok := store2.Latest()
	if !ok || got.Pin != "1" {
		t.Errorf("expected pin 1 as latest, got %+v", got)
	}
}

func TestSaveRejectsInvalidToken(t *testing.T) {
	path := tempPath(t)
	store, _ := New(path)

	if err := store.Save(session.ResumeToken{CID: "a"}); !errors.Is(err, session.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("nothing should be written for an invalid token")
	}
}

func TestCorruptFileFailsToLoad(t *testing.T) {
	path := tempPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := New(path); err == nil {
		t.Error("expected an error loading a corrupt file")
	}
}

func TestEmptyFileOnFreshStart(t *testing.T) {
	store, err := New(tempPath(t))
	if err != nil {
		t.Fatalf("unexpected error on fresh start: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected empty store on fresh start, got %d", store.Count())
	}
}
