package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/project-portal/internal/model"
)

// Accounts is the account business logic the handler needs.
// *service.AuthService satisfies it.
type Accounts interface {
	Register(ctx context.Context, username, password string) (*model.User, error)
	Login(ctx context.Context, username, password string) (*model.User, error)
}

// AuthHandler serves registration and login.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister → create an account and its personal directory
//   - HandleLogin    → check a username/password pair
//
// No session or token is issued; a successful login only reports success.
type AuthHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(accounts Accounts, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		logger:   logger,
	}
}

// credentialsRequest is the body of both account endpoints.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AccountResponse is returned by a successful register or login.
type AccountResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	UserID   string `json:"user_id,omitempty"`
}

// HandleRegister creates a new account.
//
// HTTP: POST /api/register
//
//	200 {message, username, user_id}
//	400 duplicate username or invalid input
//	500 directory provisioning failed (the account record is kept)
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		logFailure(h.logger, r, "registration failed", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountResponse{
		Message:  "User registered successfully and personal directory created.",
		Username: user.Username,
		UserID:   user.ID,
	})
}

// HandleLogin checks credentials.
//
// HTTP: POST /api/login
//
//	200 {message, username, user_id}
//	401 Invalid username or password.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		logFailure(h.logger, r, "login failed", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountResponse{
		Message:  "Login successful!",
		Username: user.Username,
		UserID:   user.ID,
	})
}
