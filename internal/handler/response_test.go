package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/project-portal/internal/apperror"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		wantDetail string
	}{
		{"validation", apperror.ValidationFailed("name", "name is required"), http.StatusBadRequest, "validation_error", "name is required"},
		{"conflict", apperror.Conflict("taken"), http.StatusBadRequest, "conflict", "taken"},
		{"unauthorized", apperror.Unauthorized("bad"), http.StatusUnauthorized, "unauthorized", "bad"},
		{"not found", apperror.NotFound("user", "x"), http.StatusNotFound, "not_found", apperror.NotFound("user", "x").Message},
		{"unavailable", apperror.Unavailable("down", errors.New("dial")), http.StatusBadGateway, "unavailable", "down"},
		{"internal", apperror.Internal("oops", errors.New("disk")), http.StatusInternalServerError, "internal_error", "oops"},
		{"wrapped", fmt.Errorf("service: %w", apperror.Conflict("taken")), http.StatusBadRequest, "conflict", "taken"},
		{"plain error hides text", errors.New("open /srv/users.json: permission denied"), http.StatusInternalServerError, "internal_error", "An internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind, detail := classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantDetail, detail)
		})
	}
}
