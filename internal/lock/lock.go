// Package lock enforces single-instance execution with an advisory lock on a
// PID file.
//
// The lock file holds the owner's PID as decimal text. Ownership is the
// flock(2) on the inode currently linked at the lock path. The kernel drops
// a flock when its owner exits, so a file left by a crashed process is
// unlocked and is taken over in place; a locked file is never removed by
// anyone but its owner.
package lock

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	identityRetries     = 3
	defaultReclaimWait  = time.Second
	reclaimPollInterval = 10 * time.Millisecond
)

// Record describes an acquired lock.
type Record struct {
	Path       string
	OwnerPID   int
	AcquiredAt time.Time
}

// Handle is proof of lock ownership. It stays valid until released or until
// another process reclaims the lock path.
type Handle struct {
	Record

	mu       sync.Mutex
	file     *os.File
	released bool
}

// Held reports whether the handle still owns the lock: it has not been
// released and the file at the lock path is the one this handle locked.
func (h *Handle) Held() bool {
	if h == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released || h.file == nil {
		return false
	}

	current, err := isCurrent(h.file, h.Path)
	return err == nil && current
}

// Manager acquires and releases PID-file locks.
type Manager struct {
	logger      *slog.Logger
	alive       func(pid int) bool
	pid         int
	now         func() time.Time
	reclaimWait time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithProcessProbe replaces the liveness check used to detect stale owners.
func WithProcessProbe(alive func(pid int) bool) Option {
	return func(m *Manager) {
		m.alive = alive
	}
}

// New creates a lock manager for the current process.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:      slog.Default(),
		alive:       ProcessAlive,
		pid:         os.Getpid(),
		now:         time.Now,
		reclaimWait: defaultReclaimWait,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Acquire takes the lock at path. A leftover file from a dead owner is taken
// over and rewritten with our PID. A locked file whose recorded PID is dead is
// being reclaimed by another process: Acquire waits for that process to
// publish its PID and retries once. A live owner yields *HeldError; any other
// failure yields *AcquisitionError.
func (m *Manager) Acquire(path string) (*Handle, error) {
	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &AcquisitionError{Path: path, Op: "create directory", Err: err}
	}

	h, err := m.tryAcquire(path)
	if err == nil {
		return h, nil
	}

	var held *HeldError
	if !errors.As(err, &held) {
		return nil, err
	}

	// An unknown owner is treated as alive.
	if held.PID <= 0 || held.PID == m.pid || m.alive(held.PID) {
		return nil, err
	}

	m.logger.Info("lock is being reclaimed by another process; waiting",
		"path", path,
		"stale_pid", held.PID,
	)
	m.awaitReclaim(path, held.PID)

	return m.tryAcquire(path)
}

// awaitReclaim polls until the PID recorded at path is no longer stalePID or
// the reclaim wait elapses.
func (m *Manager) awaitReclaim(path string, stalePID int) {
	deadline := time.Now().Add(m.reclaimWait)
	for time.Now().Before(deadline) {
		pid, err := ReadPID(path)
		if err != nil || pid != stalePID {
			return
		}
		time.Sleep(reclaimPollInterval)
	}
}

func (m *Manager) tryAcquire(path string) (*Handle, error) {
	for range identityRetries {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, &AcquisitionError{Path: path, Op: "open", Err: err}
		}

		if err := flockExclusive(f); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				pid, _ := ReadPID(path)
				return nil, &HeldError{Path: path, PID: pid}
			}
			return nil, &AcquisitionError{Path: path, Op: "lock", Err: err}
		}

		// The path may have been unlinked or replaced between open and flock.
		current, err := isCurrent(f, path)
		if err != nil {
			unlockAndClose(f)
			return nil, &AcquisitionError{Path: path, Op: "stat", Err: err}
		}
		if !current {
			unlockAndClose(f)
			continue
		}

		owned, err := m.publish(path)
		unlockAndClose(f)
		if err != nil {
			return nil, err
		}

		m.logger.Debug("lock acquired", "path", path, "pid", m.pid)

		return &Handle{
			Record: Record{
				Path:       path,
				OwnerPID:   m.pid,
				AcquiredAt: m.now(),
			},
			file: owned,
		}, nil
	}

	return nil, &AcquisitionError{Path: path, Op: "lock", Err: errLockFileReplaced}
}

// publish writes our PID to a locked temp file and renames it over path, so
// readers never observe a partially written PID. The returned file holds the
// lock on the inode now linked at path.
func (m *Manager) publish(path string) (*os.File, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, &AcquisitionError{Path: path, Op: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(op string, err error) (*os.File, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, &AcquisitionError{Path: path, Op: op, Err: err}
	}

	if err := flockExclusive(tmp); err != nil {
		return fail("lock temp file", err)
	}
	if _, err := tmp.WriteString(strconv.Itoa(m.pid) + "\n"); err != nil {
		return fail("write pid", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync pid", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fail("rename", err)
	}

	return tmp, nil
}

// Release gives up the lock. The lock file is removed only when it is still
// the file this handle locked. Failures are logged, never returned; calling
// Release twice is a no-op.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	current, err := isCurrent(h.file, h.Path)
	switch {
	case err != nil:
		m.logger.Warn("failed to inspect lock file during release", "path", h.Path, "error", err)
	case current:
		if err := os.Remove(h.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("failed to remove lock file", "path", h.Path, "error", err)
		}
	default:
		m.logger.Warn("lock file is owned by another process; leaving it in place", "path", h.Path)
	}

	if err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN); err != nil {
		m.logger.Warn("failed to unlock lock file", "path", h.Path, "error", err)
	}
	if err := h.file.Close(); err != nil {
		m.logger.Warn("failed to close lock file", "path", h.Path, "error", err)
	}

	m.logger.Debug("lock released", "path", h.Path)
}

// IsStale reports whether a lock file exists but no process holds its lock,
// which is what a crashed owner leaves behind. A missing file is not stale.
func (m *Manager) IsStale(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &AcquisitionError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	err = flockExclusive(f)
	switch {
	case err == nil:
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return true, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return false, nil
	default:
		return false, &AcquisitionError{Path: path, Op: "probe", Err: err}
	}
}

// RemoveStale deletes the lock file at path while holding its lock, so a
// process that takes the lock in the meantime is never disturbed. It reports
// whether a file was removed; a missing or held file is left alone.
func (m *Manager) RemoveStale(path string) (bool, error) {
	for range identityRetries {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, &AcquisitionError{Path: path, Op: "open", Err: err}
		}

		if err := flockExclusive(f); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return false, nil
			}
			return false, &AcquisitionError{Path: path, Op: "lock", Err: err}
		}

		current, err := isCurrent(f, path)
		if err != nil {
			unlockAndClose(f)
			return false, &AcquisitionError{Path: path, Op: "stat", Err: err}
		}
		if !current {
			unlockAndClose(f)
			continue
		}

		err = os.Remove(path)
		unlockAndClose(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, &AcquisitionError{Path: path, Op: "remove stale lock", Err: err}
		}

		m.logger.Debug("stale lock removed", "path", path)
		return true, nil
	}

	return false, nil
}

func flockExclusive(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func unlockAndClose(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}

// isCurrent reports whether f is the file currently linked at path.
func isCurrent(f *os.File, path string) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}

	pi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return os.SameFile(fi, pi), nil
}
