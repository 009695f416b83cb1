package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/project-portal/internal/model"
)

// ErrEmptyResult is returned by a remote insert that reported success but
// sent back no row.
var ErrEmptyResult = errors.New("repository: remote returned no rows")

// CredentialStore persists user records keyed by username.
//
// Create is put-if-absent: it returns an apperror.ErrConflict error when the
// username is taken and leaves the stored record untouched. Upgrade is a
// conditional write on the stored record and returns it as persisted.
// Implementations must make both check-and-write steps atomic.
type CredentialStore interface {
	Get(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Upgrade(ctx context.Context, username string, up CredentialUpgrade) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// CredentialUpgrade repairs a record written by an older version of the
// service. Each field only fills a gap, so concurrent logins converge on
// one stored record whichever upgrade lands first.
type CredentialUpgrade struct {
	// PasswordHash replaces the stored digest while it still equals
	// PreviousHash. Empty leaves the digest alone.
	PasswordHash string
	PreviousHash string
	// ID and CreatedAt are set only where the stored record has none.
	ID        string
	CreatedAt time.Time
}

// Apply changes u in place and reports whether anything changed.
func (up CredentialUpgrade) Apply(u *model.User) bool {
	changed := false
	if up.PasswordHash != "" && u.PasswordHash == up.PreviousHash {
		u.PasswordHash = up.PasswordHash
		changed = true
	}
	if up.ID != "" && u.ID == "" {
		u.ID = up.ID
		changed = true
	}
	if !up.CreatedAt.IsZero() && u.CreatedAt.IsZero() {
		u.CreatedAt = up.CreatedAt
		changed = true
	}
	return changed
}

// ProjectRepository is the remote project service. Create returns the row as
// stored remotely; ListByUser returns an empty (non-nil) slice when the user
// has no projects.
type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) (*model.Project, error)
	ListByUser(ctx context.Context, userID string) ([]model.Project, error)
}
