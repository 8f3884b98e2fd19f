package lock

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrConflict is returned when another owner holds a live lock on the target
	ErrConflict = errors.New("lock held by another owner")

	// ErrNotOwned is returned when extend or release is attempted by a non-owner
	ErrNotOwned = errors.New("lock not owned by caller")

	// ErrInvalidTarget is returned for targets that cannot be addressed
	ErrInvalidTarget = errors.New("invalid lock target")

	// ErrTargetNotFound is returned when the record or field of an inline lock does not exist
	ErrTargetNotFound = errors.New("lock target not found")

	// ErrInvalidOwner is returned when no owner identity is supplied
	ErrInvalidOwner = errors.New("owner identity is required")
)

// ConflictError describes the live lock that prevented an acquire. Owner is empty when
// the holder kept changing and could not be read back.
type ConflictError struct {
	Target    Target
	Owner     string
	ExpiresAt time.Time
	Remaining time.Duration
}

func (e *ConflictError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("%s is contended, holder changed while acquiring", e.Target)
	}
	return fmt.Sprintf("%s is locked by %s for another %s", e.Target, e.Owner, e.Remaining.Round(time.Second))
}

// Is lets errors.Is(err, ErrConflict) match conflict details
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// RecordFailure is a single record the reaper could not clear.
type RecordFailure struct {
	Store  string
	Target Target
	Err    error
}

// SweepError aggregates the failures of one sweep pass.
type SweepError struct {
	Failures []RecordFailure
}

func (e *SweepError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Target == (Target{}) {
			parts = append(parts, fmt.Sprintf("%s: %v", f.Store, f.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Store, f.Target, f.Err))
	}
	return fmt.Sprintf("sweep failed for %d record(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *SweepError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
