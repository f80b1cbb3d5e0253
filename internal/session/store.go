// Package session holds the authentication state shared by the workflows of
// one engine. The Store is single-writer: concurrent writers must coordinate
// outside of it.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// Store holds the current Session, optionally mirrored to a file so separate
// process runs can share an authenticated session.
type Store struct {
	mu      sync.RWMutex
	current schemas.Session
	path    string
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFile persists the session to path. The path is used as given; callers
// expand ~ beforehand.
func WithFile(path string) Option {
	return func(s *Store) {
		s.path = path
	}
}

// New creates a Store. With WithFile, a previously saved session is loaded;
// a missing file yields an unauthenticated session.
func New(logger *zap.Logger, opts ...Option) (*Store, error) {
	s := &Store{logger: logger.Named("session_store")}
	for _, opt := range opts {
		opt(s)
	}
	if s.path == "" {
		return s, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("No persisted session found.", zap.String("path", s.path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var loaded schemas.Session
	if err := json.Unmarshal(data, &loaded); err != nil {
		// A corrupt file is discarded rather than blocking every workflow.
		s.logger.Warn("Persisted session is unreadable; starting unauthenticated.", zap.String("path", s.path), zap.Error(err))
		return s, nil
	}
	s.current = loaded
	s.logger.Info("Loaded persisted session.",
		zap.Bool("authenticated", loaded.Authenticated),
		zap.Time("established_at", loaded.EstablishedAt),
		zap.Int("cookies", len(loaded.Cookies)),
	)
	return s, nil
}

// Get returns a copy of the current session.
func (s *Store) Get() schemas.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.current)
}

// IsAuthenticated reports whether the current session is authenticated.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Authenticated
}

// Establish records a successful authentication.
func (s *Store) Establish(cookies []schemas.Cookie, at time.Time) error {
	sess := schemas.Session{
		Cookies:       append([]schemas.Cookie(nil), cookies...),
		Authenticated: true,
		EstablishedAt: at.UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
	return s.persistLocked()
}

// Invalidate discards the current session.
func (s *Store) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = schemas.Session{}
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// persistLocked writes the session atomically. Caller holds s.mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(s.current)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict session file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func copySession(in schemas.Session) schemas.Session {
	out := in
	out.Cookies = append([]schemas.Cookie(nil), in.Cookies...)
	return out
}
