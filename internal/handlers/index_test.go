package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leefowlercu/vaultkeeper/internal/events"
	"github.com/leefowlercu/vaultkeeper/internal/fsutil"
)

func newTestIndex(t *testing.T) *IndexHandler {
	t.Helper()
	h, err := NewIndexHandler(context.Background(), IndexConfig{DBPath: filepath.Join(t.TempDir(), "index", "notes.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestIndexHandler_Lifecycle(t *testing.T) {
	ctx := context.Background()
	h := newTestIndex(t)
	vault := t.TempDir()
	path := filepath.Join(vault, "todo.md")

	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	created := events.New(path, events.Created, time.Now())
	created.RelPath = "todo.md"

	out, err := h.Handle(ctx, created)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, fsutil.HashBytes([]byte("first")), out.Metadata["content_hash"])
	assert.EqualValues(t, 5, out.Metadata["size"])

	note, err := h.Lookup(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "todo.md", note.RelPath)
	assert.Equal(t, string(events.Created), note.LastKind)
	assert.Equal(t, created.ID, note.LastEventID)

	require.NoError(t, os.WriteFile(path, []byte("second version"), 0o644))
	modified := events.New(path, events.Modified, time.Now())
	_, err = h.Handle(ctx, modified)
	require.NoError(t, err)

	note, err = h.Lookup(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, fsutil.HashBytes([]byte("second version")), note.ContentHash)
	assert.EqualValues(t, 14, note.Size)
	assert.Equal(t, string(events.Modified), note.LastKind)

	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, os.Remove(path))
	out, err = h.Handle(ctx, events.New(path, events.Deleted, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, true, out.Metadata["removed"])

	n, err = h.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexHandler_DeleteUnknownPathSucceeds(t *testing.T) {
	h := newTestIndex(t)

	out, err := h.Handle(context.Background(), events.New("/nowhere/x.md", events.Deleted, time.Now()))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, false, out.Metadata["removed"])
}

func TestIndexHandler_MissingFileWarns(t *testing.T) {
	h := newTestIndex(t)

	_, err := h.Handle(context.Background(), events.New(filepath.Join(t.TempDir(), "gone.md"), events.Modified, time.Now()))
	require.Error(t, err)

	health := h.Health()
	assert.True(t, health.IsHealthy)
	require.Len(t, health.Warnings, 1)
	assert.Contains(t, health.Warnings[0], "last index update failed")
}

func TestIndexHandler_HealthAfterClose(t *testing.T) {
	h := newTestIndex(t)
	assert.True(t, h.Health().IsHealthy)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "close is idempotent")

	health := h.Health()
	assert.False(t, health.IsHealthy)
	assert.Equal(t, []string{"index is closed"}, health.Warnings)
}

func TestIndexHandler_RequiresPath(t *testing.T) {
	_, err := NewIndexHandler(context.Background(), IndexConfig{}, nil)
	assert.Error(t, err)
}
