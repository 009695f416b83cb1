// Package postgres implements repository.ProjectRepository with a direct
// connection to the project database, for deployments that reach Postgres
// without going through the REST gateway.
//
// The schema lives in migrations/ and is applied with goose, either by
// `server migrate` or by Migrate at startup.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sakif/project-portal/internal/apperror"
	"github.com/sakif/project-portal/internal/model"
	"github.com/sakif/project-portal/internal/repository"
	"github.com/sakif/project-portal/internal/repository/postgres/migrations"
)

var _ repository.ProjectRepository = (*Store)(nil)

// Config describes the connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// Store is a pgx connection pool with project queries on top.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New opens the pool and checks it with a ping.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging %s: %w", poolCfg.ConnConfig.Host, err)
	}

	logger.Info("project database connected",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.String("database", poolCfg.ConnConfig.Database),
		slog.Int("maxConns", int(poolCfg.MaxConns)),
	)
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// gooseUp is a seam for tests.
var gooseUp = goose.UpContext

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("postgres: selecting goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("postgres: applying migrations: %w", err)
	}
	return nil
}

// Create inserts project and returns the stored row.
func (s *Store) Create(ctx context.Context, project *model.Project) (*model.Project, error) {
	const query = `
		INSERT INTO projects (user_id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, name, description, created_at`

	createdAt := project.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, query, project.UserID, project.Name, project.Description, createdAt)
	stored, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrEmptyResult
		}
		return nil, classify("inserting project", err)
	}
	return stored, nil
}

// ListByUser returns the user's projects, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]model.Project, error) {
	const query = `
		SELECT id, user_id, name, description, created_at
		FROM projects
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, classify("listing projects", err)
	}
	defer rows.Close()

	projects := make([]model.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, classify("scanning project", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating projects", err)
	}
	return projects, nil
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p         model.Project
		id        int64
		createdAt time.Time
	)
	if err := row.Scan(&id, &p.UserID, &p.Name, &p.Description, &createdAt); err != nil {
		return nil, err
	}
	p.ID = model.ProjectIDFromInt(id)
	p.CreatedAt = model.NewTimestamp(createdAt)
	return &p, nil
}

// classify maps a pgx failure onto the apperror kinds the service layer
// understands.
//
//	SQLSTATE class 23                 → Constraint
//	SQLSTATE class 08, 57P01..57P03   → Unavailable
//	network errors, timeouts          → Unavailable
//	anything else                     → Internal
func classify(op string, err error) error {
	wrapped := fmt.Errorf("postgres: %s: %w", op, err)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return apperror.Constraint("Project violates a constraint of the project service.", wrapped)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return apperror.Unavailable("Project service is unavailable.", wrapped)
		default:
			return apperror.Internal("Project service returned an error.", wrapped)
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || errors.As(err, &netErr) {
		return apperror.Unavailable("Project service is unreachable.", wrapped)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperror.Unavailable("Project service is unreachable.", wrapped)
	}

	return apperror.Internal("Project service returned an error.", wrapped)
}
