// Package sqlite implements repository.CredentialStore using SQLite as the
// storage backend.
//
// WHY SQLITE HERE?
// The JSON file store serialises writers with an in-process mutex, which is
// enough for one server. SQLite gives the same put-if-absent guarantee via a
// PRIMARY KEY constraint, and it holds across processes that share the file.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code, so no C compiler is needed.
//
// DATABASE/SQL OVERVIEW:
// Go's standard library provides "database/sql", a generic interface for SQL
// databases. The pattern is always:
//  1. sql.Open(driverName, dataSourceName) → creates a pool
//  2. db.QueryContext / db.ExecContext     → runs queries
//  3. rows.Scan(&field1, &field2)          → reads results into Go variables
package sqlite

import (
	"database/sql"
	"fmt"

	// BLANK IMPORT:
	// The sqlite package's init() registers itself with database/sql as a
	// driver named "sqlite". After this import, sql.Open("sqlite", ...) works.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/users.db"  → file-based database (persistent)
//   - ":memory:"       → in-memory database (great for tests, lost on close)
//
// CONNECTION POOL:
// sql.Open() does NOT actually open a connection; it just creates a pool
// manager. We call Ping() to force an immediate connection and verify it works.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database exists per connection. Pinning the pool to one
	// connection keeps every query looking at the same database, and for a
	// file it serialises writers the way the JSON store does.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL (Write-Ahead Logging) mode lets readers proceed while a write is
	// in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Wait for a competing process's write lock instead of failing at once.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
//
// ALWAYS DEFER CLOSE:
//
//	db, err := sqlite.New("data/users.db")
//	if err != nil { ... }
//	defer db.Close()
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the users table.
//
// CREATE TABLE IF NOT EXISTS is idempotent and runs on every start.
func (db *DB) migrate() error {
	// username is the natural key: the PRIMARY KEY constraint is what makes
	// Create a single atomic put-if-absent.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			username      TEXT PRIMARY KEY,
			id            TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			directory     TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_id ON users(id);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}
	return nil
}
