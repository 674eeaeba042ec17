package consoleclient

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"scholaris/console/internal/model"
)

// TokenKey is the one fixed name under which the raw session token is kept in
// durable storage. Absence of the key means no session.
const TokenKey = "console_token"

// Keeper persists the raw token across restarts.
type Keeper interface {
	Read() (string, error)
	Write(token string) error
	Clear() error
}

// FileKeeper stores the token in a file named TokenKey under dir.
type FileKeeper struct {
	Dir string
}

func (k FileKeeper) path() string {
	return filepath.Join(k.Dir, TokenKey)
}

func (k FileKeeper) Read() (string, error) {
	data, err := os.ReadFile(k.path())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (k FileKeeper) Write(token string) error {
	return os.WriteFile(k.path(), []byte(token), 0o600)
}

func (k FileKeeper) Clear() error {
	err := os.Remove(k.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// SchoolKey caches the last-known school id for form pre-fill. Convenience
// only, not part of the session contract; never cleared on logout.
const SchoolKey = "console_school"

func (k FileKeeper) RememberSchool(id string) {
	if err := os.WriteFile(filepath.Join(k.Dir, SchoolKey), []byte(id), 0o600); err != nil {
		logf("school cache write failed: %v", err)
	}
}

func (k FileKeeper) LastSchool() string {
	data, err := os.ReadFile(filepath.Join(k.Dir, SchoolKey))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

type sessionPair struct {
	token string
	user  model.UserProfile
}

// Store is the single source of truth for who is logged in. The token and
// profile live in one pair behind one pointer, so readers observe either the
// complete old pair or the complete new pair, never a mix.
type Store struct {
	mu      sync.RWMutex
	current *sessionPair
	loading bool
	keeper  Keeper
}

func NewStore(keeper Keeper) *Store {
	return &Store{keeper: keeper, loading: true}
}

func (s *Store) Login(user model.UserProfile, token string) {
	pair := &sessionPair{token: token, user: user}
	s.mu.Lock()
	s.current = pair
	s.loading = false
	s.mu.Unlock()

	if s.keeper != nil {
		if err := s.keeper.Write(token); err != nil {
			logf("session keeper write failed: %v", err)
		}
	}
}

// Logout clears the pair. In-flight requests holding the old token are left
// to complete or fail on their own.
func (s *Store) Logout() {
	s.mu.Lock()
	s.current = nil
	s.loading = false
	s.mu.Unlock()

	if s.keeper != nil {
		if err := s.keeper.Clear(); err != nil {
			logf("session keeper clear failed: %v", err)
		}
	}
}

// Current reads the whole pair in one step.
func (s *Store) Current() (model.UserProfile, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.UserProfile{}, "", false
	}
	return s.current.user, s.current.token, true
}

func (s *Store) CurrentUser() (model.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.UserProfile{}, false
	}
	return s.current.user, true
}

// Token is the synchronous read used at request-construction time.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.token
}

// Loading is true only until the initial read from durable storage has
// resolved, so callers can show a placeholder instead of bouncing to login.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) markLoaded() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}
