package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/project-portal/internal/config"
	"github.com/sakif/project-portal/internal/repository"
	"github.com/sakif/project-portal/internal/repository/jsonfile"
	"github.com/sakif/project-portal/internal/repository/postgres"
	sqliteRepo "github.com/sakif/project-portal/internal/repository/sqlite"
	"github.com/sakif/project-portal/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the HTTP server until SIGINT or SIGTERM.

Examples:
  # defaults plus PORTAL_* environment
  server serve

  # with a config file
  server serve --config /etc/portal/portal.yaml`,
	RunE: runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply project database migrations",
	Long: `Apply the embedded goose migrations to postgres.dsn. Only meaningful with
projects.backend=postgres; the server also migrates on startup.`,
	RunE: runMigrate,
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List registered usernames",
	RunE:  runUsers,
}

// loadConfig validates only the sections the command needs, so `users`
// works without remote credentials.
func loadConfig(scope config.Scope) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile, Scope: scope})
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newLogger builds the process logger. Everything else receives it by
// injection.
func newLogger(cfg config.Log) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.ScopeServer)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return err
	}

	// Start blocks until the server is shut down
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.ScopeMigrate)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.Postgres.DSN,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func runUsers(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.ScopeLocal)
	if err != nil {
		return err
	}

	var store repository.CredentialStore
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqliteRepo.New(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
	default:
		fs, err := jsonfile.New(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		store = fs
	}

	users, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, u := range users {
		fmt.Fprintf(out, "%s\t%s\t%s\n", u.Username, u.ID, u.Directory)
	}
	return nil
}
