package pipeline

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/tollgate/lock"
	"github.com/pithecene-io/tollgate/pool"
)

// Exit codes returned by ExitCode.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitLockBusy = 2
	ExitLockIO   = 3
	ExitStartup  = 4
	ExitSource   = 5
)

// Sentinel errors for failures the pipeline itself classifies.
var (
	// ErrSource indicates the changed files could not be enumerated.
	ErrSource = errors.New("change source failed")
	// ErrStorage indicates a report sink rejected the batch.
	ErrStorage = errors.New("report storage failed")
	// ErrInvalidConfig indicates the pipeline was misconfigured.
	ErrInvalidConfig = errors.New("invalid pipeline config")
)

// SourceError wraps a change source failure.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("enumerate changes: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error { return e.Err }

// Is matches ErrSource.
func (e *SourceError) Is(target error) bool { return target == ErrSource }

// ExitCode maps a Run error to a process exit status.
// Partial item failures are not errors and exit 0.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, lock.ErrLockBusy):
		return ExitLockBusy
	case errors.Is(err, lock.ErrLockIO):
		return ExitLockIO
	case errors.Is(err, pool.ErrBatchStartup):
		return ExitStartup
	case errors.Is(err, ErrSource):
		return ExitSource
	default:
		return ExitError
	}
}
