// Package jsonfile implements repository.CredentialStore on top of a single
// JSON document mapping username → user record.
//
// THE DOCUMENT:
//
//	{
//	    "alice": {"username": "alice", "id": "...", "password_hash": "$2a$...", ...},
//	    "bob":   {...}
//	}
//
// The whole document is read on every call and rewritten on every change.
// That is fine for the handful of accounts this service is meant for.
//
// CONSISTENCY:
// Two properties hold for every write:
//
//  1. Single writer. Every read-modify-write runs under s.mu, so two
//     registrations can't both load the old map and clobber each other.
//  2. Atomic replace. Save writes a temp file in the same directory and
//     renames it over the target (atomicwriter). A crash mid-write leaves
//     the previous document intact, never a truncated one.
//
// The lock only covers this process. Two server processes pointed at the
// same file are not supported; use the sqlite driver for that.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/moby/sys/atomicwriter"

	"github.com/sakif/project-portal/internal/apperror"
	"github.com/sakif/project-portal/internal/model"
	"github.com/sakif/project-portal/internal/repository"
)

var _ repository.CredentialStore = (*Store)(nil)

// Store is a file-backed credential store. The zero value is not usable;
// call New.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New returns a Store for path. The file does not need to exist yet; its
// parent directory is created if missing.
func New(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: creating directory for %s: %w", path, err)
	}
	return &Store{path: path, logger: logger}, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the full mapping.
//
// A missing file and a file that does not parse both yield an empty map.
// Any other read failure is logged and also yields an empty map; callers
// that write go through load and see the error instead.
func (s *Store) Load() map[string]model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		s.logger.Warn("credential store unreadable, treating as empty",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return map[string]model.User{}
	}
	return users
}

// Save replaces the document with users.
func (s *Store) Save(users map[string]model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(users)
}

// load reads the document. Only an absent file or unparsable content count
// as empty; a file that exists but cannot be read is an error, so no write
// ever replaces records it could not see.
func (s *Store) load() (map[string]model.User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]model.User{}, nil
		}
		return nil, fmt.Errorf("jsonfile: reading %s: %w", s.path, err)
	}

	users := map[string]model.User{}
	if err := json.Unmarshal(data, &users); err != nil {
		s.logger.Warn("credential store is not valid JSON, treating as empty",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return map[string]model.User{}, nil
	}
	if users == nil {
		// the file contained a bare "null"
		return map[string]model.User{}, nil
	}

	// Older documents have no username inside the record; the key is
	// authoritative either way.
	for name, u := range users {
		u.Username = name
		users[name] = u
	}
	return users, nil
}

func (s *Store) save(users map[string]model.User) error {
	data, err := json.MarshalIndent(users, "", "    ")
	if err != nil {
		return fmt.Errorf("jsonfile: encoding users: %w", err)
	}
	if err := atomicwriter.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("jsonfile: writing %s: %w", s.path, err)
	}
	return nil
}

// Get returns the record for username or apperror.ErrNotFound.
func (s *Store) Get(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}
	u, ok := users[username]
	if !ok {
		return nil, apperror.NotFound("user", username)
	}
	return &u, nil
}

// Create adds user unless the username is already present.
func (s *Store) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := users[user.Username]; exists {
		return apperror.Conflict(fmt.Sprintf("user %s already exists", user.Username))
	}
	users[user.Username] = *user
	return s.save(users)
}

// Upgrade applies up to the stored record under the write lock and returns
// the record as persisted.
func (s *Store) Upgrade(_ context.Context, username string, up repository.CredentialUpgrade) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}
	u, exists := users[username]
	if !exists {
		return nil, apperror.NotFound("user", username)
	}
	if !up.Apply(&u) {
		return &u, nil
	}
	users[username] = u
	if err := s.save(users); err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns every record sorted by username.
func (s *Store) List(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	users, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
