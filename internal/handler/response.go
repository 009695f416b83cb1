package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from the account API has the same shape:
//   {"error": "conflict", "detail": "Username already exists. Please choose a different one."}
//
// The project API adds a success flag so the front end can branch on one field:
//   {"success": false, "error": "unavailable", "detail": "Project service is unavailable."}

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/project-portal/internal/apperror"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the error format of the account endpoints.
type ErrorResponse struct {
	Error  string `json:"error"`  // machine-readable kind, e.g. "conflict"
	Detail string `json:"detail"` // human-readable description
}

// ProjectErrorResponse is the error format of the project endpoints.
type ProjectErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be set before the body: once Encode writes,
// later header changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent; all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// classify maps a domain error to an HTTP status, an error kind and the
// message the client may see.
//
//	ErrValidation   → 400 validation_error
//	ErrConflict     → 400 conflict   (duplicate username, remote constraint)
//	ErrUnauthorized → 401 unauthorized
//	ErrNotFound     → 404 not_found
//	ErrUnavailable  → 502 unavailable
//	anything else   → 500 internal_error
//
// Unknown errors get a generic message. Raw error text may contain paths or
// SQL and is never sent to the client.
func classify(err error) (int, string, string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "internal_error", "An internal error occurred"
	}

	switch {
	case errors.Is(appErr, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error", appErr.Message
	case errors.Is(appErr, apperror.ErrConflict):
		return http.StatusBadRequest, "conflict", appErr.Message
	case errors.Is(appErr, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", appErr.Message
	case errors.Is(appErr, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found", appErr.Message
	case errors.Is(appErr, apperror.ErrUnavailable):
		return http.StatusBadGateway, "unavailable", appErr.Message
	default:
		return http.StatusInternalServerError, "internal_error", appErr.Message
	}
}

// writeError maps a domain error to the appropriate HTTP status and sends it.
func writeError(w http.ResponseWriter, err error) {
	status, kind, detail := classify(err)
	writeJSON(w, status, ErrorResponse{Error: kind, Detail: detail})
}

// writeProjectError is writeError for the project endpoints.
func writeProjectError(w http.ResponseWriter, err error) {
	status, kind, detail := classify(err)
	writeJSON(w, status, ProjectErrorResponse{Success: false, Error: kind, Detail: detail})
}

// decodeJSON reads a JSON body into dst. A wrong field type, malformed JSON
// or an oversized body is a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &typeErr):
			return apperror.ValidationFailed(typeErr.Field, fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type))
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("", "request body is too large")
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("", "request body is required")
		default:
			return apperror.ValidationFailed("", "invalid JSON request body")
		}
	}
	return nil
}

// logFailure records server-side failures with their hidden cause.
func logFailure(logger *slog.Logger, r *http.Request, msg string, err error) {
	status, _, _ := classify(err)
	if status < http.StatusInternalServerError {
		return
	}
	logger.Error(msg,
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", apperror.Detail(err)),
	)
}
