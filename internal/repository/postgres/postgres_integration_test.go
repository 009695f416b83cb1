//go:build integration

package postgres

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/project-portal/internal/apperror"
	"github.com/sakif/project-portal/internal/model"
	"github.com/sakif/project-portal/internal/testsupport/pgcontainer"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := pgcontainer.Start(t)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()

	s, err := New(ctx, Config{DSN: dsn, MaxConns: 4}, logger)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	// a second run is a no-op
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStore_CreateAndList(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	base := time.Date(2025, 10, 28, 12, 0, 0, 0, time.UTC)

	for i, name := range []string{"first", "second"} {
		_, err := s.Create(ctx, &model.Project{
			UserID:      "u1",
			Name:        name,
			Description: "d",
			CreatedAt:   model.NewTimestamp(base.Add(time.Duration(i) * time.Hour)),
		})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, &model.Project{UserID: "u2", Name: "other", CreatedAt: model.NewTimestamp(base)})
	require.NoError(t, err)

	got, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Name, "newest first")
	assert.NotEmpty(t, got[0].ID)
	assert.True(t, got[1].CreatedAt.Equal(base))

	none, err := s.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_ConstraintViolations(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, &model.Project{UserID: "u1", Name: "dup"})
	require.NoError(t, err)

	_, err = s.Create(ctx, &model.Project{UserID: "u1", Name: "dup"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = s.Create(ctx, &model.Project{UserID: "u1", Name: ""})
	assert.ErrorIs(t, err, apperror.ErrConflict, "empty name violates the check constraint")
}

func TestStore_CancelledContext(t *testing.T) {
	s := newIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := s.ListByUser(ctx, "u1")
	assert.ErrorIs(t, err, apperror.ErrUnavailable)
}
