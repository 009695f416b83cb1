package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/project-portal/internal/apperror"
	"github.com/sakif/project-portal/internal/model"
	"github.com/sakif/project-portal/internal/repository"
)

// compile-time check that *DB implements repository.CredentialStore
var _ repository.CredentialStore = (*DB)(nil)

// Create inserts a user unless the username is already taken.
//
// ON CONFLICT DO NOTHING turns the uniqueness check and the write into one
// statement. If the row already exists nothing changes and RowsAffected is 0,
// which we report as a conflict. There is no window between "check" and
// "insert" for a second registration to slip into.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (username, id, password_hash, directory, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		user.Username,
		user.ID,
		user.PasswordHash,
		user.Directory,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Username, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Username, err)
	}
	if n == 0 {
		return apperror.Conflict(fmt.Sprintf("user %s already exists", user.Username))
	}
	return nil
}

// Get retrieves a user by username.
// Returns apperror.ErrNotFound if no user exists with that name.
func (db *DB) Get(ctx context.Context, username string) (*model.User, error) {
	var u model.User

	err := db.conn.QueryRowContext(ctx,
		`SELECT username, id, password_hash, directory, created_at
		 FROM users WHERE username = ?`,
		username,
	).Scan(
		&u.Username,
		&u.ID,
		&u.PasswordHash,
		&u.Directory,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", username, err)
	}

	return &u, nil
}

// Upgrade fills the gaps described by up in one statement and returns the
// row as stored.
//
// The CASE guards make the write conditional on the current row, so when two
// logins race to assign an ID the second UPDATE keeps the first one's value
// and RETURNING hands it back to both callers.
func (db *DB) Upgrade(ctx context.Context, username string, up repository.CredentialUpgrade) (*model.User, error) {
	var u model.User

	err := db.conn.QueryRowContext(ctx,
		`UPDATE users SET
		   password_hash = CASE WHEN ? <> '' AND password_hash = ? THEN ? ELSE password_hash END,
		   id            = CASE WHEN id = '' THEN ? ELSE id END
		 WHERE username = ?
		 RETURNING username, id, password_hash, directory, created_at`,
		up.PasswordHash, up.PreviousHash, up.PasswordHash,
		up.ID,
		username,
	).Scan(&u.Username, &u.ID, &u.PasswordHash, &u.Directory, &u.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: upgrading user %s: %w", username, err)
	}
	return &u, nil
}

// List returns all users ordered by username.
//
// defer rows.Close() is not optional: an unclosed *sql.Rows keeps its
// connection checked out of the pool, and with MaxOpenConns(1) the next
// query would block forever.
func (db *DB) List(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT username, id, password_hash, directory, created_at
		 FROM users ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.Username, &u.ID, &u.PasswordHash, &u.Directory, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return users, nil
}
