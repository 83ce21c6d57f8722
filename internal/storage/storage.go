// Package storage provides the SQLite note index kept by the index handler.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Storage provides access to the note index database.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates a new Storage instance with the given database path.
// It creates the directory structure if needed and runs migrations.
func Open(ctx context.Context, dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory; %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database; %w", err)
	}

	// Serialize access to avoid SQLite write contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout; %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode; %w", err)
	}

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations; %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table; %w", err)
	}

	currentVersion, err := s.getCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version; %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to run migration %d (%s); %w", m.Version, m.Description, err)
		}
	}

	return nil
}

func (s *Storage) getCurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigration executes a single migration within a transaction.
func (s *Storage) runMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction; %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("failed to execute migration; %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration; %w", err)
	}

	return tx.Commit()
}

// SchemaVersion returns the current schema version.
func (s *Storage) SchemaVersion(ctx context.Context) (int, error) {
	return s.getCurrentVersion(ctx)
}

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Create notes table",
		Up: `
			CREATE TABLE IF NOT EXISTS notes (
				path TEXT PRIMARY KEY,
				rel_path TEXT NOT NULL,
				size INTEGER NOT NULL,
				mod_time TIMESTAMP NOT NULL,
				content_hash TEXT NOT NULL,
				last_kind TEXT NOT NULL,
				last_event_id TEXT NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_notes_content_hash ON notes(content_hash);
		`,
	},
	{
		Version:     2,
		Description: "Create note_events history table",
		Up: `
			CREATE TABLE IF NOT EXISTS note_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_id TEXT NOT NULL,
				path TEXT NOT NULL,
				kind TEXT NOT NULL,
				occurred_at TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_note_events_path ON note_events(path);
		`,
	},
}
