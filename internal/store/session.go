package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	sourceName = "source.dcm"
	slicesName = "slices"
)

// ErrNotFound is returned when a session ID does not resolve to a live
// session directory.
var ErrNotFound = errors.New("session not found")

// UploadSession is one uploaded DICOM file and its derived PNG slices on
// disk. The slices directory, when populated, holds one PNG per extracted
// frame named so that lexical order matches frame order.
type UploadSession struct {
	ID        string
	Dir       string
	CreatedAt time.Time
}

// SourcePath returns the location of the saved upload.
func (s *UploadSession) SourcePath() string {
	return filepath.Join(s.Dir, sourceName)
}

// SlicesDir returns the directory holding the generated PNGs.
func (s *UploadSession) SlicesDir() string {
	return filepath.Join(s.Dir, slicesName)
}

// SessionStore owns the lifecycle of on-disk upload artifacts under a single
// root directory: one subdirectory per session, removed either explicitly
// after a download or by the age-based sweep.
type SessionStore struct {
	root   string
	logger *slog.Logger
}

func NewSessionStore(root string, logger *slog.Logger) *SessionStore {
	return &SessionStore{root: root, logger: logger}
}

// Root returns the root artifact directory.
func (s *SessionStore) Root() string {
	return s.root
}

// Ping reports whether the artifact root exists and is a directory.
func (s *SessionStore) Ping() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("artifact root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifact root %s is not a directory", s.root)
	}
	return nil
}

// Allocate creates a fresh working directory for an upload. The directory
// name combines the sanitized original filename with a UTC timestamp and a
// random suffix, so two uploads of the same file in the same second cannot
// collide.
func (s *SessionStore) Allocate(filename string) (*UploadSession, error) {
	id := newSessionID(filename)
	dir := filepath.Join(s.root, id)

	if err := os.MkdirAll(filepath.Join(dir, slicesName), 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	return &UploadSession{ID: id, Dir: dir, CreatedAt: time.Now()}, nil
}

// Get resolves a session ID to its on-disk session. IDs containing path
// separators or other characters Allocate never emits are rejected before
// touching the filesystem.
func (s *SessionStore) Get(id string) (*UploadSession, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	dir := filepath.Join(s.root, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, ErrNotFound
	}

	return &UploadSession{ID: id, Dir: dir, CreatedAt: info.ModTime()}, nil
}

// List returns all live sessions under the root, oldest first.
func (s *SessionStore) List() ([]*UploadSession, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading artifact root: %w", err)
	}

	var sessions []*UploadSession
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, &UploadSession{
			ID:        entry.Name(),
			Dir:       filepath.Join(s.root, entry.Name()),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Release deletes a session's source file and slices directory immediately,
// independent of the age-based sweep.
func (s *SessionStore) Release(sess *UploadSession) error {
	if err := os.RemoveAll(sess.Dir); err != nil {
		return fmt.Errorf("removing session %s: %w", sess.ID, err)
	}
	return nil
}

// Sweep deletes every session older than maxAge. Deletion failures are
// logged and skipped so one broken session cannot block cleanup of the
// rest; abandoned uploads that were never downloaded go away here.
func (s *SessionStore) Sweep(maxAge time.Duration) {
	sessions, err := s.List()
	if err != nil {
		s.logger.Warn("sweep: listing sessions", "err", err)
		return
	}

	for _, sess := range stale(time.Now(), sessions, maxAge) {
		if err := os.RemoveAll(sess.Dir); err != nil {
			s.logger.Warn("sweep: removing session", "session", sess.ID, "err", err)
			continue
		}
		s.logger.Info("sweep: removed stale session", "session", sess.ID)
	}
}

// stale returns the sessions whose age relative to now exceeds maxAge.
func stale(now time.Time, sessions []*UploadSession, maxAge time.Duration) []*UploadSession {
	var out []*UploadSession
	for _, sess := range sessions {
		if now.Sub(sess.CreatedAt) > maxAge {
			out = append(out, sess)
		}
	}
	return out
}

func newSessionID(filename string) string {
	base := sanitizeBase(filename)
	stamp := time.Now().UTC().Format("20060102150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", base, stamp, suffix)
}

// sanitizeBase reduces an uploaded filename to a safe directory-name stem.
func sanitizeBase(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		cleaned = "upload"
	}
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	return cleaned
}

func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
