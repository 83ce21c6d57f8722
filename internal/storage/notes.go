package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when a note is not in the index.
var ErrNotFound = errors.New("note not found")

// Note is one indexed vault file.
type Note struct {
	Path        string
	RelPath     string
	Size        int64
	ModTime     time.Time
	ContentHash string
	LastKind    string
	LastEventID string
	UpdatedAt   time.Time
}

// UpsertNote creates or updates the index row for a note and appends the
// triggering event to the history table.
func (s *Storage) UpsertNote(ctx context.Context, n *Note) error {
	n.Path = filepath.Clean(n.Path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction; %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notes (path, rel_path, size, mod_time, content_hash, last_kind, last_event_id,
		                    created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(path) DO UPDATE SET
		   rel_path = excluded.rel_path,
		   size = excluded.size,
		   mod_time = excluded.mod_time,
		   content_hash = excluded.content_hash,
		   last_kind = excluded.last_kind,
		   last_event_id = excluded.last_event_id,
		   updated_at = CURRENT_TIMESTAMP`,
		n.Path, n.RelPath, n.Size, n.ModTime.UTC(), n.ContentHash, n.LastKind, n.LastEventID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert note; %w", err)
	}

	if err := recordEvent(ctx, tx, n.LastEventID, n.Path, n.LastKind); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit note; %w", err)
	}
	return nil
}

// DeleteNote removes a note from the index. Returns ErrNotFound if the path
// was never indexed; the deletion is still recorded in the history.
func (s *Storage) DeleteNote(ctx context.Context, path, eventID string) error {
	path = filepath.Clean(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction; %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM notes WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("failed to delete note; %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected; %w", err)
	}

	if err := recordEvent(ctx, tx, eventID, path, "deleted"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete; %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetNote returns the index row for path.
func (s *Storage) GetNote(ctx context.Context, path string) (*Note, error) {
	path = filepath.Clean(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT path, rel_path, size, mod_time, content_hash, last_kind, last_event_id, updated_at
		 FROM notes WHERE path = ?`,
		path,
	)

	var n Note
	err := row.Scan(&n.Path, &n.RelPath, &n.Size, &n.ModTime, &n.ContentHash, &n.LastKind, &n.LastEventID, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan note; %w", err)
	}
	return &n, nil
}

// CountNotes returns the number of indexed notes.
func (s *Storage) CountNotes(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes; %w", err)
	}
	return count, nil
}

// EventCount returns how many events have been recorded for path.
func (s *Storage) EventCount(ctx context.Context, path string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM note_events WHERE path = ?", filepath.Clean(path),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count note events; %w", err)
	}
	return count, nil
}

func recordEvent(ctx context.Context, tx *sql.Tx, eventID, path, kind string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO note_events (event_id, path, kind, occurred_at) VALUES (?, ?, ?, ?)",
		eventID, path, kind, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record note event; %w", err)
	}
	return nil
}
