package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSessionStore(t.TempDir(), logger)
}

// age rewrites a session directory's mtime so it looks older than maxAge.
func age(t *testing.T, sess *UploadSession, by time.Duration) {
	t.Helper()
	old := time.Now().Add(-by)
	if err := os.Chtimes(sess.Dir, old, old); err != nil {
		t.Fatalf("aging session dir: %v", err)
	}
}

func TestAllocateCreatesWorkingDirectory(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Allocate("scan.dcm")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if info, err := os.Stat(sess.Dir); err != nil || !info.IsDir() {
		t.Errorf("session dir not created: %v", err)
	}
	if info, err := os.Stat(sess.SlicesDir()); err != nil || !info.IsDir() {
		t.Errorf("slices dir not created: %v", err)
	}
	if filepath.Dir(sess.Dir) != s.Root() {
		t.Errorf("session dir %q not under root %q", sess.Dir, s.Root())
	}
}

func TestAllocateSameFilenameDoesNotCollide(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Allocate("scan.dcm")
	if err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}
	b, err := s.Allocate("scan.dcm")
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}

	if a.ID == b.ID {
		t.Errorf("two uploads of the same filename got the same ID %q", a.ID)
	}
}

func TestAllocateSanitizesFilename(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Allocate("../../etc/passwd ü.dcm")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if filepath.Dir(sess.Dir) != s.Root() {
		t.Errorf("sanitized session escaped root: %q", sess.Dir)
	}
}

func TestGetRejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"", "..", "../other", "a/b", "a\\b", "a.b"} {
		if _, err := s.Get(id); err != ErrNotFound {
			t.Errorf("Get(%q) = %v, want ErrNotFound", id, err)
		}
	}
}

func TestGetReturnsAllocatedSession(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Allocate("scan.dcm")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Dir != sess.Dir {
		t.Errorf("Get returned dir %q, want %q", got.Dir, sess.Dir)
	}
}

func TestReleaseRemovesArtifacts(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Allocate("scan.dcm")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := os.WriteFile(sess.SourcePath(), []byte("dicom"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	if err := s.Release(sess); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(sess.Dir); !os.IsNotExist(err) {
		t.Errorf("session dir still exists after Release")
	}

	// A sweep over the already-released session must not error or panic.
	s.Sweep(time.Hour)
}

func TestSweepDeletesOnlyStaleSessions(t *testing.T) {
	s := newTestStore(t)

	oldSess, err := s.Allocate("old.dcm")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	newSess, err := s.Allocate("new.dcm")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	age(t, oldSess, 2*time.Hour)

	s.Sweep(time.Hour)

	if _, err := os.Stat(oldSess.Dir); !os.IsNotExist(err) {
		t.Errorf("stale session survived sweep")
	}
	if _, err := os.Stat(newSess.Dir); err != nil {
		t.Errorf("fresh session deleted by sweep: %v", err)
	}

	// Idempotence: a second sweep produces the same end state.
	s.Sweep(time.Hour)
	if _, err := os.Stat(newSess.Dir); err != nil {
		t.Errorf("fresh session deleted by second sweep: %v", err)
	}
}

func TestStaleIsPureOverSessionList(t *testing.T) {
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	sessions := []*UploadSession{
		{ID: "a", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "b", CreatedAt: now.Add(-61 * time.Minute)},
		{ID: "c", CreatedAt: now.Add(-59 * time.Minute)},
		{ID: "d", CreatedAt: now},
	}

	got := stale(now, sessions, time.Hour)

	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("stale returned %d sessions, want %d", len(got), len(want))
	}
	for i, sess := range got {
		if sess.ID != want[i] {
			t.Errorf("stale[%d] = %q, want %q", i, sess.ID, want[i])
		}
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(); err != nil {
		t.Errorf("Ping on live root failed: %v", err)
	}

	gone := NewSessionStore(filepath.Join(s.Root(), "missing"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := gone.Ping(); err == nil {
		t.Error("Ping on missing root should fail")
	}
}
