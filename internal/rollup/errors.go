package rollup

import (
	"errors"
	"fmt"
)

// Sentinel errors for the rollup pipeline. Callers match with errors.Is.
var (
	// ErrUnknownRollup is returned when a refresh or query names a rollup
	// that is not registered.
	ErrUnknownRollup = errors.New("unknown rollup")

	// ErrRefreshInProgress is returned when a refresh is requested for a
	// rollup whose previous refresh has not finished. The scheduler treats
	// this as "skip this tick", not a failure.
	ErrRefreshInProgress = errors.New("refresh already in progress")

	// ErrDuplicateName is returned by strict-mode registration when a name
	// collides with a different definition fingerprint.
	ErrDuplicateName = errors.New("duplicate rollup name")
)

// RefreshError reports a failed refresh. The previous snapshot stays
// authoritative; the next scheduled tick retries.
type RefreshError struct {
	Rollup  string
	Timeout bool
	Err     error
}

func (e *RefreshError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("refresh %s: timed out: %v", e.Rollup, e.Err)
	}
	return fmt.Sprintf("refresh %s: %v", e.Rollup, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
