// Package postgrest implements repository.ProjectRepository against a hosted
// Postgres exposed through PostgREST (the REST layer Supabase puts in front
// of every project database).
//
// WIRE FORMAT:
//
//	insert  POST {url}/rest/v1/{table}
//	        Prefer: return=representation   → 201 [ {row} ]
//	select  GET  {url}/rest/v1/{table}?select=*&user_id=eq.{id}&order=created_at.desc
//	                                        → 200 [ {row}, ... ]
//	error   4xx/5xx {"code": "23505", "message": "...", "details": "...", "hint": "..."}
//
// Every request carries the API key twice: as the "apikey" header (the
// gateway uses it to pick the project) and as a bearer token (PostgREST
// uses it to pick the database role).
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/project-portal/internal/apperror"
	"github.com/sakif/project-portal/internal/auth"
	"github.com/sakif/project-portal/internal/model"
	"github.com/sakif/project-portal/internal/repository"
)

var _ repository.ProjectRepository = (*Client)(nil)

// maxErrorBody bounds how much of an error response we read.
const maxErrorBody = 64 << 10

// Config describes the remote project service.
type Config struct {
	URL     string        // project URL, e.g. https://abcd.supabase.co
	APIKey  string        // anon or service_role key
	Table   string        // defaults to "projects"
	Timeout time.Duration // per request; zero means no client-side timeout
}

// Client talks to the PostgREST endpoint.
type Client struct {
	endpoint *url.URL
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

// New validates cfg and returns a ready Client. It fails on an expired API
// key so a bad deployment is caught at startup, not on the first request.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgrest: URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("postgrest: parsing URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("postgrest: URL scheme must be http or https, got %q", base.Scheme)
	}

	info, err := auth.InspectAPIKey(cfg.APIKey, time.Now())
	if err != nil {
		return nil, fmt.Errorf("postgrest: %w", err)
	}
	logger.Info("project service configured",
		slog.String("url", base.String()),
		slog.String("role", info.Role),
	)

	table := cfg.Table
	if table == "" {
		table = "projects"
	}

	return &Client{
		endpoint: base.JoinPath("rest", "v1", table),
		apiKey:   cfg.APIKey,
		http:     auth.BearerClient(context.Background(), cfg.APIKey, cfg.Timeout),
		logger:   logger,
	}, nil
}

// Create inserts project and returns the stored row.
func (c *Client) Create(ctx context.Context, project *model.Project) (*model.Project, error) {
	body, err := json.Marshal(project)
	if err != nil {
		return nil, fmt.Errorf("postgrest: encoding project: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	var rows []model.Project
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, repository.ErrEmptyResult
	}
	return &rows[0], nil
}

// ListByUser returns the user's projects, newest first.
func (c *Client) ListByUser(ctx context.Context, userID string) ([]model.Project, error) {
	u := *c.endpoint
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)
	q.Set("order", "created_at.desc")
	u.RawQuery = q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	rows := make([]model.Project, 0)
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		// a literal "null" body
		rows = make([]model.Project, 0)
	}
	return rows, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("postgrest: building request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. Non-2xx responses and
// transport failures are classified into apperror kinds.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Unavailable("Project service is unreachable.",
			fmt.Errorf("postgrest: %s %s: %w", req.Method, req.URL.Path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperror.Internal("Project service sent an unreadable response.",
				fmt.Errorf("postgrest: decoding %s response: %w", req.Method, err))
		}
		return nil
	}

	return classify(resp)
}

// Error is a non-2xx PostgREST response.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("postgrest: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("postgrest: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// classify turns an error response into an apperror.
//
//	502/503/504         → Unavailable (gateway could not reach the database)
//	SQLSTATE class 23   → Constraint  (unique, foreign key, not null, check)
//	anything else       → Internal
func classify(resp *http.Response) error {
	perr := &Error{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, perr); err != nil || perr.Message == "" {
		perr.Message = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return apperror.Unavailable("Project service is unavailable.", perr)
	case strings.HasPrefix(perr.Code, "23"):
		return apperror.Constraint("Project violates a constraint of the project service.", perr)
	default:
		return apperror.Internal("Project service returned an error.", perr)
	}
}
