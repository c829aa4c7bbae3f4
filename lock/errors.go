package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// Sentinel errors for lock failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrLockBusy indicates the lock is held by another owner and the wait
	// policy gave up.
	ErrLockBusy = errors.New("lock busy")

	// ErrLockIO indicates the marker could not be created, read or removed.
	ErrLockIO = errors.New("lock i/o failure")

	// ErrPermissionDenied indicates EACCES/EPERM on the lock directory.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDiskFull indicates ENOSPC or EDQUOT.
	ErrDiskFull = errors.New("no space left on device")

	// ErrReadOnly indicates EROFS.
	ErrReadOnly = errors.New("read-only file system")

	// ErrEmptyKey is returned when acquiring with an empty resource key.
	ErrEmptyKey = errors.New("lock key is empty")
)

// BusyError reports that a lock could not be acquired within the wait policy.
type BusyError struct {
	// Key is the resource key.
	Key string
	// Path is the marker path.
	Path string
	// Holder is the current owner, when the marker could be decoded.
	Holder *Owner
	// Waited is how long Acquire waited before giving up.
	Waited time.Duration
}

func (e *BusyError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("lock %q busy: held by pid %d on %s (waited %s)",
			e.Key, e.Holder.PID, e.Holder.Host, e.Waited.Round(time.Millisecond))
	}
	return fmt.Sprintf("lock %q busy (waited %s)", e.Key, e.Waited.Round(time.Millisecond))
}

// Is reports whether target is ErrLockBusy.
func (e *BusyError) Is(target error) bool {
	return target == ErrLockBusy
}

// IOError wraps a filesystem failure on the lock directory.
type IOError struct {
	// Op is the operation that failed (e.g., "create", "read", "remove").
	Op string
	// Path is the file involved.
	Path string
	// Kind is one of ErrPermissionDenied, ErrDiskFull, ErrReadOnly, or nil.
	Kind error
	// Err is the underlying error.
	Err error
}

func (e *IOError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("lock %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("lock %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is matches ErrLockIO and the error's Kind.
func (e *IOError) Is(target error) bool {
	if target == ErrLockIO {
		return true
	}
	return e.Kind != nil && errors.Is(e.Kind, target)
}

// newIOError classifies err and wraps it. Returns nil if err is nil.
func newIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Kind: classifyIOError(err), Err: err}
}

// classifyIOError maps filesystem errors onto the kind sentinels.
func classifyIOError(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case isDiskFull(err):
		return ErrDiskFull
	case isReadOnly(err):
		return ErrReadOnly
	}
	return nil
}
