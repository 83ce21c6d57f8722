package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")

	s, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestOpen_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "index.db")

	s, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created; %v", err)
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "index.db")

	for i := 0; i < 2; i++ {
		s, err := Open(ctx, dbPath)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i+1, err)
		}
		version, err := s.SchemaVersion(ctx)
		if err != nil {
			t.Fatalf("SchemaVersion() error = %v", err)
		}
		if version != len(migrations) {
			t.Errorf("SchemaVersion() = %d, want %d", version, len(migrations))
		}
		s.Close()
	}
}

func TestUpsertNote_InsertAndUpdate(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	note := &Note{
		Path:        "/vault/notes/../notes/a.md",
		RelPath:     "notes/a.md",
		Size:        42,
		ModTime:     mod,
		ContentHash: "abc",
		LastKind:    "created",
		LastEventID: "ev-1",
	}
	if err := s.UpsertNote(ctx, note); err != nil {
		t.Fatalf("UpsertNote() error = %v", err)
	}

	got, err := s.GetNote(ctx, "/vault/notes/a.md")
	if err != nil {
		t.Fatalf("GetNote() error = %v", err)
	}
	if got.Size != 42 || got.ContentHash != "abc" || got.LastKind != "created" {
		t.Errorf("GetNote() = %+v", got)
	}
	if !got.ModTime.Equal(mod) {
		t.Errorf("ModTime = %v, want %v", got.ModTime, mod)
	}

	note.Size = 50
	note.ContentHash = "def"
	note.LastKind = "modified"
	note.LastEventID = "ev-2"
	if err := s.UpsertNote(ctx, note); err != nil {
		t.Fatalf("UpsertNote() update error = %v", err)
	}

	got, err = s.GetNote(ctx, "/vault/notes/a.md")
	if err != nil {
		t.Fatalf("GetNote() error = %v", err)
	}
	if got.Size != 50 || got.ContentHash != "def" || got.LastEventID != "ev-2" {
		t.Errorf("GetNote() after update = %+v", got)
	}

	count, err := s.CountNotes(ctx)
	if err != nil || count != 1 {
		t.Errorf("CountNotes() = %d, %v; want 1", count, err)
	}
	events, err := s.EventCount(ctx, "/vault/notes/a.md")
	if err != nil || events != 2 {
		t.Errorf("EventCount() = %d, %v; want 2", events, err)
	}
}

func TestDeleteNote(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	note := &Note{Path: "/vault/b.md", RelPath: "b.md", ModTime: time.Now(), ContentHash: "x", LastKind: "created", LastEventID: "ev-1"}
	if err := s.UpsertNote(ctx, note); err != nil {
		t.Fatalf("UpsertNote() error = %v", err)
	}

	if err := s.DeleteNote(ctx, "/vault/b.md", "ev-2"); err != nil {
		t.Fatalf("DeleteNote() error = %v", err)
	}
	if _, err := s.GetNote(ctx, "/vault/b.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNote() after delete error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteNote(ctx, "/vault/b.md", "ev-3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteNote() error = %v, want ErrNotFound", err)
	}

	events, err := s.EventCount(ctx, "/vault/b.md")
	if err != nil || events != 3 {
		t.Errorf("EventCount() = %d, %v; want 3", events, err)
	}
}

func TestGetNote_Missing(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.GetNote(context.Background(), "/nope.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNote() error = %v, want ErrNotFound", err)
	}
}
