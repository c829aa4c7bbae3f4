//go:build unix

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive sends signal 0. ESRCH means gone; EPERM means the
// process exists but belongs to someone else.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil || errors.Is(err, unix.EPERM) {
		return true
	}
	return !errors.Is(err, unix.ESRCH)
}
