package daemon

import (
	"context"
	"log/slog"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/handlers"
	"github.com/leefowlercu/vaultkeeper/internal/lock"
	"github.com/leefowlercu/vaultkeeper/internal/watcher"
)

// Components are the collaborators built from configuration.
type Components struct {
	Manager *Manager
	Watcher *watcher.Watcher
	Locks   *lock.Manager
}

// Build constructs the lock manager, watcher and handler loader described by
// cfg and wires them into a Manager.
func Build(cfg *config.Config, logger *slog.Logger) *Components {
	if logger == nil {
		logger = slog.Default()
	}

	locks := lock.New(lock.WithLogger(logger.With("component", "lock")))

	w := watcher.New(
		watcher.WithDebounceWindow(cfg.Vault.DebounceWindow()),
		watcher.WithDeleteGracePeriod(cfg.Vault.DeleteGracePeriod()),
		watcher.WithQueueSize(cfg.Vault.QueueSize),
		watcher.WithExcludes(cfg.Vault.Exclude),
		watcher.WithExcludeDirs(cfg.Vault.ExcludeDirs),
		watcher.WithLogger(logger.With("component", "watcher")),
	)

	entries := cfg.Handlers
	handlerTimeout := cfg.Daemon.HandlerDuration()
	handlerLogger := logger.With("component", "handlers")
	load := func(ctx context.Context) (*handlers.Registry, error) {
		return handlers.NewLoader(entries, handlerTimeout, handlers.WithLoaderLogger(handlerLogger)).Load(ctx)
	}

	m := NewManager(ConfigFrom(cfg), locks, w, load, WithLogger(logger.With("component", "daemon")))

	return &Components{Manager: m, Watcher: w, Locks: locks}
}
