package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/project-portal/internal/model"
)

// Projects is the project business logic the handler needs.
// *service.ProjectService satisfies it.
type Projects interface {
	Create(ctx context.Context, userID, name, description string) (*model.Project, error)
	Fetch(ctx context.Context, userID string) ([]model.Project, error)
}

// ProjectHandler proxies project operations to the remote project service.
type ProjectHandler struct {
	projects Projects
	logger   *slog.Logger
}

func NewProjectHandler(projects Projects, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		logger:   logger,
	}
}

type createProjectRequest struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type fetchProjectsRequest struct {
	UserID string `json:"user_id"`
}

// CreateProjectResponse is the success body of /create-project.
type CreateProjectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FetchProjectsResponse is the success body of /fetch-projects.
type FetchProjectsResponse struct {
	Success  bool            `json:"success"`
	Projects []model.Project `json:"projects"`
}

// HandleCreateProject inserts a project for a user.
//
// HTTP: POST /create-project
//
//	200 {success: true, message}
//	400 missing fields or a remote constraint violation
//	502 project service unreachable
//	500 anything else, including an insert that returned no row
func (h *ProjectHandler) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProjectError(w, err)
		return
	}

	if _, err := h.projects.Create(r.Context(), req.UserID, req.Name, req.Description); err != nil {
		logFailure(h.logger, r, "create project failed", err)
		writeProjectError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CreateProjectResponse{
		Success: true,
		Message: "Project created successfully",
	})
}

// HandleFetchProjects lists a user's projects.
//
// HTTP: POST /fetch-projects
//
//	200 {success: true, projects: [...]}   (empty list when the user has none)
func (h *ProjectHandler) HandleFetchProjects(w http.ResponseWriter, r *http.Request) {
	var req fetchProjectsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProjectError(w, err)
		return
	}

	projects, err := h.projects.Fetch(r.Context(), req.UserID)
	if err != nil {
		logFailure(h.logger, r, "fetch projects failed", err)
		writeProjectError(w, err)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}

	writeJSON(w, http.StatusOK, FetchProjectsResponse{
		Success:  true,
		Projects: projects,
	})
}
