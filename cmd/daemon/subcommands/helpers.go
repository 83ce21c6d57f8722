// Package subcommands provides the daemon subcommands (start, stop, status).
package subcommands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/lock"
)

// holder describes who, if anyone, owns the daemon lock file.
type holder struct {
	Running   bool
	PID       int
	StaleLock bool
}

// inspectLock reports the daemon lock state from outside the daemon.
func inspectLock(locks *lock.Manager, path string) (holder, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return holder{}, nil
		}
		return holder{}, fmt.Errorf("failed to stat lock file; %w", err)
	}

	stale, err := locks.IsStale(path)
	if err != nil {
		return holder{}, err
	}

	pid, _ := lock.ReadPID(path)
	if stale {
		return holder{PID: pid, StaleLock: true}, nil
	}

	// A held lock whose owner has not yet written its PID still counts as
	// running.
	return holder{Running: true, PID: pid}, nil
}

func lockPath(cfg *config.Config) string {
	return config.ExpandPath(cfg.Daemon.LockFile)
}
