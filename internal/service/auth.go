// Package service holds the business logic of the portal.
//
// AuthService sits between the HTTP handlers and the credential store:
//
//	AuthHandler (HTTP) → AuthService (business rules) → CredentialStore
//	                   ↘ Provisioner (per-user directory)
//
// KEY RESPONSIBILITIES:
//   - Registration: validate, hash, put-if-absent, provision the directory
//   - Login: verify against the stored digest, upgrade weak digests
//   - Translate storage outcomes into the messages clients see
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/project-portal/internal/apperror"
	"github.com/sakif/project-portal/internal/auth"
	"github.com/sakif/project-portal/internal/metrics"
	"github.com/sakif/project-portal/internal/model"
	"github.com/sakif/project-portal/internal/provision"
	"github.com/sakif/project-portal/internal/repository"
)

// Client-facing messages. Handlers return them verbatim.
const (
	MsgUsernameTaken      = "Username already exists. Please choose a different one."
	MsgProvisionFailed    = "Internal server error during directory setup."
	MsgInvalidCredentials = "Invalid username or password."
)

// DirectoryProvisioner creates a user's personal directory.
// *provision.Provisioner satisfies it.
type DirectoryProvisioner interface {
	DirFor(username string) string
	Provision(ctx context.Context, username string) (string, error)
}

// AuthService handles registration and login.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.CredentialStore → read/write user records
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - dirs       DirectoryProvisioner       → per-user directory
//   - metrics    *metrics.Metrics           → registration/login counters
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.CredentialStore
	passwords *auth.PasswordService
	dirs      DirectoryProvisioner
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService creates an AuthService. A nil m disables metrics.
func NewAuthService(
	users repository.CredentialStore,
	passwords *auth.PasswordService,
	dirs DirectoryProvisioner,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	if m == nil {
		m = metrics.Discard()
	}
	return &AuthService{
		users:     users,
		passwords: passwords,
		dirs:      dirs,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates a credential record for username and provisions the
// user's directory.
//
// The record is written before the directory is created. If provisioning
// fails the record stays and the caller gets MsgProvisionFailed; the next
// attempt with the same username is a conflict.
func (s *AuthService) Register(ctx context.Context, username, password string) (*model.User, error) {
	if err := provision.ValidName(username); err != nil {
		s.metrics.Registrations.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, err
	}
	if password == "" {
		s.metrics.Registrations.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		s.metrics.Registrations.WithLabelValues(metrics.ResultRejected).Inc()
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
		}
		return nil, fmt.Errorf("service/auth: hashing password for %s: %w", username, err)
	}

	user := &model.User{
		Username:     username,
		ID:           xid.New().String(),
		PasswordHash: hash,
		Directory:    s.dirs.DirFor(username),
		CreatedAt:    s.now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.metrics.Registrations.WithLabelValues(metrics.ResultConflict).Inc()
			return nil, apperror.Conflict(MsgUsernameTaken)
		}
		s.metrics.Registrations.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("service/auth: storing user %s: %w", username, err)
	}

	if _, err := s.dirs.Provision(ctx, username); err != nil {
		s.metrics.Registrations.WithLabelValues(metrics.ResultProvision).Inc()
		s.logger.Error("directory provisioning failed",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Internal(MsgProvisionFailed, err)
	}

	s.metrics.Registrations.WithLabelValues(metrics.ResultSuccess).Inc()
	s.logger.Info("user registered",
		slog.String("username", username),
		slog.String("userID", user.ID),
	)
	return user, nil
}

// Login verifies the password for username. Unknown users and wrong
// passwords produce the same error and take the same time.
//
// A stored digest that is weaker than the current policy (legacy sha256,
// lower bcrypt cost) is replaced after a successful login. Records without
// an ID get one at the same time. Failing to persist the upgrade does not
// fail the login.
func (s *AuthService) Login(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.users.Get(ctx, username)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.metrics.Logins.WithLabelValues(metrics.ResultError).Inc()
			return nil, fmt.Errorf("service/auth: loading user %s: %w", username, err)
		}
		_ = s.passwords.VerifyDummy(password)
		s.metrics.Logins.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, apperror.Unauthorized(MsgInvalidCredentials)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		s.metrics.Logins.WithLabelValues(metrics.ResultRejected).Inc()
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			// malformed stored hash; the client still sees bad credentials
			s.logger.Warn("stored password hash is unreadable",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.Unauthorized(MsgInvalidCredentials)
	}

	if s.passwords.NeedsRehash(user.PasswordHash) || user.ID == "" {
		s.upgrade(ctx, user, password)
	}

	s.metrics.Logins.WithLabelValues(metrics.ResultSuccess).Inc()
	s.logger.Info("user logged in",
		slog.String("username", username),
		slog.String("userID", user.ID),
	)
	return user, nil
}

// upgrade repairs a legacy record. The store applies each field only where
// the stored record still has the gap, and user is replaced by what was
// persisted, so concurrent logins all report the same ID.
func (s *AuthService) upgrade(ctx context.Context, user *model.User, password string) {
	up := repository.CredentialUpgrade{
		ID:        xid.New().String(),
		CreatedAt: s.now().UTC(),
	}
	if s.passwords.NeedsRehash(user.PasswordHash) {
		hash, err := s.passwords.Hash(password)
		if err != nil {
			s.logger.Warn("rehashing password failed",
				slog.String("username", user.Username),
				slog.String("error", err.Error()),
			)
		} else {
			up.PasswordHash = hash
			up.PreviousHash = user.PasswordHash
		}
	}

	stored, err := s.users.Upgrade(ctx, user.Username, up)
	if err != nil {
		s.logger.Warn("persisting credential upgrade failed",
			slog.String("username", user.Username),
			slog.String("error", err.Error()),
		)
		return
	}
	*user = *stored
	s.logger.Info("credential record upgraded", slog.String("username", user.Username))
}
