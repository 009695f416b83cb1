package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/project-portal/internal/apperror"
	"github.com/sakif/project-portal/internal/metrics"
	"github.com/sakif/project-portal/internal/model"
	"github.com/sakif/project-portal/internal/repository"
)

// MsgRemoteNoData is returned when an insert succeeded remotely but no row
// came back.
const MsgRemoteNoData = "Remote service returned no data."

// ProjectService forwards project operations to the remote project service.
// Nothing is cached: every Fetch re-queries.
type ProjectService struct {
	repo    repository.ProjectRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewProjectService creates a ProjectService. A nil m disables metrics.
func NewProjectService(repo repository.ProjectRepository, m *metrics.Metrics, logger *slog.Logger) *ProjectService {
	if m == nil {
		m = metrics.Discard()
	}
	return &ProjectService{
		repo:    repo,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Create stamps a creation time and inserts the project. It succeeds only
// when the remote service hands the stored row back.
func (s *ProjectService) Create(ctx context.Context, userID, name, description string) (*model.Project, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" {
		return nil, apperror.ValidationFailed("user_id", "user_id is required")
	}
	if name == "" {
		return nil, apperror.ValidationFailed("name", "project name is required")
	}

	project := &model.Project{
		UserID:      userID,
		Name:        name,
		Description: description,
		CreatedAt:   model.NewTimestamp(s.now()),
	}

	stored, err := s.repo.Create(ctx, project)
	s.observe("create", err)
	if err != nil {
		if errors.Is(err, repository.ErrEmptyResult) {
			return nil, apperror.Internal(MsgRemoteNoData, err)
		}
		s.logRemoteFailure(ctx, "create", userID, err)
		return nil, fmt.Errorf("service/project: creating project for %s: %w", userID, err)
	}

	s.logger.Info("project created",
		slog.String("userID", userID),
		slog.String("projectID", string(stored.ID)),
	)
	return stored, nil
}

// Fetch returns the user's projects. A user with no projects gets an empty
// slice.
func (s *ProjectService) Fetch(ctx context.Context, userID string) ([]model.Project, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("user_id", "user_id is required")
	}

	projects, err := s.repo.ListByUser(ctx, userID)
	s.observe("fetch", err)
	if err != nil {
		s.logRemoteFailure(ctx, "fetch", userID, err)
		return nil, fmt.Errorf("service/project: fetching projects for %s: %w", userID, err)
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return projects, nil
}

func (s *ProjectService) observe(op string, err error) {
	s.metrics.RemoteCalls.WithLabelValues(op, outcome(err)).Inc()
}

func (s *ProjectService) logRemoteFailure(ctx context.Context, op, userID string, err error) {
	level := slog.LevelError
	if errors.Is(err, apperror.ErrConflict) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "project service call failed",
		slog.String("op", op),
		slog.String("userID", userID),
		slog.String("outcome", outcome(err)),
		slog.String("error", apperror.Detail(err)),
	)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, repository.ErrEmptyResult):
		return metrics.OutcomeEmpty
	case errors.Is(err, apperror.ErrUnavailable):
		return metrics.OutcomeUnavailable
	case errors.Is(err, apperror.ErrConflict):
		return metrics.OutcomeConstraint
	default:
		return metrics.OutcomeError
	}
}
