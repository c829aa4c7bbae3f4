package pool

import (
	"errors"
	"fmt"
)

// ErrBatchStartup is the sentinel for batch-level configuration failures.
var ErrBatchStartup = errors.New("batch startup failed")

// StartupError reports why a batch could not start.
// No items are analyzed when it is returned.
type StartupError struct {
	Reason string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("batch startup failed: %s", e.Reason)
}

// Is reports whether target is ErrBatchStartup.
func (e *StartupError) Is(target error) bool {
	return target == ErrBatchStartup
}
