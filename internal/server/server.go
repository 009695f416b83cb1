// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: config in, a running server out.
//
//	config.Config → credential store (jsonfile | sqlite)
//	              → project backend  (postgrest | postgres)
//	              → services → handlers → chi routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/project-portal/internal/auth"
	"github.com/sakif/project-portal/internal/config"
	"github.com/sakif/project-portal/internal/handler"
	"github.com/sakif/project-portal/internal/metrics"
	"github.com/sakif/project-portal/internal/middleware"
	"github.com/sakif/project-portal/internal/provision"
	"github.com/sakif/project-portal/internal/repository"
	"github.com/sakif/project-portal/internal/repository/jsonfile"
	"github.com/sakif/project-portal/internal/repository/postgres"
	"github.com/sakif/project-portal/internal/repository/postgrest"
	sqliteRepo "github.com/sakif/project-portal/internal/repository/sqlite"
	"github.com/sakif/project-portal/internal/service"
)

// Server owns the router and every resource that must be released on
// shutdown.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	users    repository.CredentialStore
	projects repository.ProjectRepository
	closers  []func() error
}

// Option customises New.
type Option func(*Server)

// WithProjectRepository replaces the configured project backend. Tests use
// it to run the full router without a remote service.
func WithProjectRepository(repo repository.ProjectRepository) Option {
	return func(s *Server) { s.projects = repo }
}

// New wires the dependency graph described by cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.openCredentialStore(); err != nil {
		return nil, err
	}
	if s.projects == nil {
		if err := s.openProjectBackend(); err != nil {
			s.Close()
			return nil, err
		}
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func (s *Server) openCredentialStore() error {
	switch s.config.Store.Driver {
	case "sqlite":
		if dir := filepath.Dir(s.config.Store.Path); s.config.Store.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(s.config.Store.Path)
		if err != nil {
			return fmt.Errorf("opening credential database: %w", err)
		}
		s.users = db
		s.closers = append(s.closers, db.Close)
	default:
		store, err := jsonfile.New(s.config.Store.Path, s.logger)
		if err != nil {
			return fmt.Errorf("opening credential file: %w", err)
		}
		s.users = store
	}
	s.logger.Info("credential store ready",
		slog.String("driver", s.config.Store.Driver),
		slog.String("path", s.config.Store.Path),
	)
	return nil
}

func (s *Server) openProjectBackend() error {
	switch s.config.Projects.Backend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := postgres.New(ctx, postgres.Config{
			DSN:      s.config.Postgres.DSN,
			MaxConns: s.config.Postgres.MaxConns,
			MinConns: s.config.Postgres.MinConns,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("connecting to project database: %w", err)
		}
		s.closers = append(s.closers, func() error { store.Close(); return nil })

		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating project database: %w", err)
		}
		s.projects = store
	default:
		client, err := postgrest.New(postgrest.Config{
			URL:     s.config.Supabase.URL,
			APIKey:  s.config.Supabase.Key,
			Table:   s.config.Projects.Table,
			Timeout: s.config.Projects.Timeout,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("configuring project service: %w", err)
		}
		s.projects = client
	}
	return nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET  /                 → index.html
// GET  /login            → login.html
// GET  /register         → register.html
// GET  /logout           → logout.html
// GET  /home             → home.html
// GET  /res/*            → static assets
// GET  /healthz          → liveness
// GET  /metrics          → Prometheus exposition
// POST /api/register     → create account   (rate limited)
// POST /api/login        → check password   (rate limited)
// POST /create-project   → insert project
// POST /fetch-projects   → list projects
//
// MIDDLEWARE ORDER:
// RequestID → RealIP → Recoverer → Logger → Metrics
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	if s.config.Metrics.Enabled {
		s.router.Use(middleware.Metrics(s.metrics))
	}

	// === Pages ===
	pages := handler.NewPageHandler(s.config.Pages.Dir, s.logger)
	s.router.Get("/", pages.Page("index.html"))
	s.router.Get("/login", pages.Page("login.html"))
	s.router.Get("/register", pages.Page("register.html"))
	s.router.Get("/logout", pages.Page("logout.html"))
	s.router.Get("/home", pages.Page("home.html"))
	s.router.Handle("/res/*", pages.Assets("/res/"))

	// === Operational ===
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	if s.config.Metrics.Enabled {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	// === Accounts ===
	dirs, err := provision.New(s.config.Users.Dir)
	if err != nil {
		return err
	}
	authService := service.NewAuthService(
		s.users,
		auth.NewPasswordService(s.config.Auth.BcryptCost),
		dirs,
		s.metrics,
		s.logger,
	)
	authHandler := handler.NewAuthHandler(authService, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		if s.config.RateLimit.Enabled {
			limiter := middleware.NewRateLimiter(s.config.RateLimit.RPS, s.config.RateLimit.Burst, s.logger)
			r.Use(limiter.Handler)
		}
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
	})

	// === Projects ===
	projectService := service.NewProjectService(s.projects, s.metrics, s.logger)
	projectHandler := handler.NewProjectHandler(projectService, s.logger)
	s.router.Post("/create-project", projectHandler.HandleCreateProject)
	s.router.Post("/fetch-projects", projectHandler.HandleFetchProjects)

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases databases and pools in reverse order of opening.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to server.shutdown_timeout and closes every resource.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("store", s.config.Store.Driver),
			slog.String("projects", s.config.Projects.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
