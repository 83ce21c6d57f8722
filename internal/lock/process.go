package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ReadPID reads the owner PID recorded in a lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, fmt.Errorf("lock file %s is empty", path)
	}

	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in lock file; %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID in lock file: %d", pid)
	}

	return pid, nil
}

// ProcessAlive reports whether a process with the given PID exists. A process
// owned by another user counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
