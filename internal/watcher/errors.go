package watcher

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning is returned by Start on a running watcher.
	ErrAlreadyRunning = errors.New("watcher already running")

	errRootRemoved   = errors.New("vault root was removed")
	errStreamClosed  = errors.New("event stream closed unexpectedly")
	errNotADirectory = errors.New("not a directory")
)

// Failure is reported on the failure channel when the watcher can no longer
// observe the vault.
type Failure struct {
	Root string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("watcher failed for %s; %v", f.Root, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// isWatchLimitError reports whether err means the kernel refused another watch.
func isWatchLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EMFILE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "too many open files") ||
		strings.Contains(msg, "no space left on device") ||
		strings.Contains(msg, "user limit on total number of inotify watches")
}
