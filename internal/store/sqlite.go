// ABOUTME: SQLite implementation of the Inventory interface using modernc.org/sqlite
// ABOUTME: Opens the database, enables WAL and creates the schema

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Inventory using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			identity    TEXT PRIMARY KEY,
			collective  TEXT NOT NULL DEFAULT '',
			facts_json  TEXT NOT NULL DEFAULT '{}',
			classes_json TEXT NOT NULL DEFAULT '[]',
			agents_json TEXT NOT NULL DEFAULT '[]',
			online      INTEGER NOT NULL DEFAULT 0,
			first_seen  TEXT NOT NULL,
			last_seen   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_online ON nodes(online);

		CREATE TABLE IF NOT EXISTS requests (
			request_id TEXT PRIMARY KEY,
			agent      TEXT NOT NULL,
			action     TEXT NOT NULL,
			caller     TEXT NOT NULL,
			type       TEXT NOT NULL,
			targets    INTEGER NOT NULL,
			responses  INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
