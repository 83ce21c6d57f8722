package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/events"
	"github.com/leefowlercu/vaultkeeper/internal/fsutil"
	"github.com/leefowlercu/vaultkeeper/internal/storage"
)

const indexHealthProbeTimeout = 500 * time.Millisecond

// IndexConfig is the index handler's config block.
type IndexConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// IndexHandler keeps a SQLite index of every vault file: size, modification
// time, content hash and the last event seen.
type IndexHandler struct {
	store  *storage.Storage
	logger *slog.Logger

	mu      sync.Mutex
	lastErr error
	closed  bool
}

// NewIndexHandler opens (creating if needed) the index database.
func NewIndexHandler(ctx context.Context, cfg IndexConfig, logger *slog.Logger) (*IndexHandler, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("index handler requires db_path")
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.Open(ctx, config.ExpandPath(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open index; %w", err)
	}

	return &IndexHandler{store: store, logger: logger}, nil
}

// NewIndexFromConfig is the index Factory.
func NewIndexFromConfig(ctx context.Context, entry config.HandlerConfig, logger *slog.Logger) (Handler, error) {
	cfg := IndexConfig{DBPath: config.DefaultIndexDBPath}
	if err := decodeConfig(entry.Config, &cfg); err != nil {
		return nil, err
	}
	return NewIndexHandler(ctx, cfg, logger)
}

// CanHandle accepts every event.
func (h *IndexHandler) CanHandle(events.FileEvent) bool {
	return true
}

// Handle updates the index row for the event's path.
func (h *IndexHandler) Handle(ctx context.Context, ev events.FileEvent) (Output, error) {
	if ev.Kind == events.Deleted {
		err := h.store.DeleteNote(ctx, ev.Path, ev.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return Output{}, h.record(err)
		}
		h.record(nil)
		return Output{Success: true, Metadata: map[string]any{
			"removed": err == nil,
		}}, nil
	}

	snap, err := fsutil.Inspect(ev.Path)
	if err != nil {
		return Output{}, h.record(fmt.Errorf("failed to inspect file; %w", err))
	}

	note := &storage.Note{
		Path:        ev.Path,
		RelPath:     ev.RelPath,
		Size:        snap.Size,
		ModTime:     snap.ModTime,
		ContentHash: snap.ContentHash,
		LastKind:    string(ev.Kind),
		LastEventID: ev.ID,
	}
	if err := h.store.UpsertNote(ctx, note); err != nil {
		return Output{}, h.record(err)
	}
	h.record(nil)

	return Output{Success: true, Metadata: map[string]any{
		"content_hash": snap.ContentHash,
		"size":         snap.Size,
		"mime_type":    snap.MIMEType,
	}}, nil
}

// Lookup returns the index row for path.
func (h *IndexHandler) Lookup(ctx context.Context, path string) (*storage.Note, error) {
	return h.store.GetNote(ctx, path)
}

// Count returns the number of indexed files.
func (h *IndexHandler) Count(ctx context.Context) (int, error) {
	return h.store.CountNotes(ctx)
}

// Health is unhealthy when the database cannot be reached.
func (h *IndexHandler) Health() Health {
	h.mu.Lock()
	closed, lastErr := h.closed, h.lastErr
	h.mu.Unlock()

	if closed {
		return Health{IsHealthy: false, Warnings: []string{"index is closed"}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), indexHealthProbeTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		return Health{IsHealthy: false, Warnings: []string{"index database unreachable: " + err.Error()}}
	}

	if lastErr != nil {
		return Health{IsHealthy: true, Warnings: []string{"last index update failed: " + lastErr.Error()}}
	}
	return Healthy()
}

// Close closes the index database.
func (h *IndexHandler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	return h.store.Close()
}

func (h *IndexHandler) record(err error) error {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
	return err
}
