package lock

import (
	"errors"
	"fmt"
)

var errLockFileReplaced = errors.New("lock file kept changing while acquiring")

// HeldError is returned when a live process already owns the lock.
type HeldError struct {
	Path string
	// PID of the current owner, or 0 when the lock file has no readable PID.
	PID int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("lock %s is held by pid %d", e.Path, e.PID)
	}
	return fmt.Sprintf("lock %s is held by another process", e.Path)
}

// AcquisitionError is returned when the lock could not be obtained for a
// reason other than contention (permissions, filesystem errors).
type AcquisitionError struct {
	Path string
	Op   string
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire lock %s: %s; %v", e.Path, e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
