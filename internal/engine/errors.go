package engine

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable means a checkout step could not retrieve the source.
// Fatal to the job.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrTimeout means a run step exceeded its wall-clock bound. Fatal to the job.
var ErrTimeout = errors.New("step timed out")

// NonZeroExitError means a run step's command exited with a non-zero code.
// Fatal to the job.
type NonZeroExitError struct {
	Code int
}

func (e *NonZeroExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// CacheUnavailableError means the cache store hit a storage-layer I/O error.
// Non-fatal: the executor logs it and the job continues, since read-through
// caching is an optimization, not a correctness requirement. A plain cache
// miss is not an error at all.
type CacheUnavailableError struct {
	Err error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("cache unavailable: %v", e.Err)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Err }
