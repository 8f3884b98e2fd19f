package lock

import (
	"fmt"
	"strings"
	"time"
)

// Target identifies a lockable record. A target with a FieldID is locked inline on the
// field element of the record; a target without one is locked through a standalone lock
// document referencing the record.
type Target struct {
	Collection string `json:"collection"`
	RecordID   string `json:"record_id"`
	FieldID    string `json:"field_id,omitempty"`
}

// Inline reports whether the lock lives on the target record itself
func (t Target) Inline() bool {
	return t.FieldID != ""
}

// Validate checks that the target is addressable
func (t Target) Validate() error {
	if t.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidTarget)
	}
	if strings.Contains(t.Collection, "/") {
		return fmt.Errorf("%w: collection must not contain '/'", ErrInvalidTarget)
	}
	if t.RecordID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidTarget)
	}
	return nil
}

// RecordKey is the standalone lock reference of the target record
func (t Target) RecordKey() string {
	return t.Collection + "/" + t.RecordID
}

func (t Target) String() string {
	if t.FieldID == "" {
		return t.RecordKey()
	}
	return t.RecordKey() + "#" + t.FieldID
}

// ParseRecordKey is the inverse of Target.RecordKey
func ParseRecordKey(key string) (Target, error) {
	collection, record, ok := strings.Cut(key, "/")
	if !ok || collection == "" || record == "" {
		return Target{}, fmt.Errorf("%w: malformed record key %q", ErrInvalidTarget, key)
	}
	return Target{Collection: collection, RecordID: record}, nil
}

// Lock is the ownership state of a target as stored.
type Lock struct {
	Target    Target    `json:"target"`
	Owner     string    `json:"owner,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Held reports whether an owner is recorded, expired or not
func (l Lock) Held() bool {
	return l.Owner != ""
}

// LiveAt reports whether the lock still excludes other owners at now.
// An elapsed lock counts as released even before the reaper clears it.
func (l Lock) LiveAt(now time.Time) bool {
	return l.Owner != "" && l.ExpiresAt.After(now)
}

// ExpiredAt reports whether the reaper may clear the lock at now
func (l Lock) ExpiredAt(now time.Time) bool {
	return l.Owner != "" && l.ExpiresAt.Before(now)
}

// Remaining is the time left before expiry, zero once elapsed
func (l Lock) Remaining(now time.Time) time.Duration {
	if !l.LiveAt(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}

// Handle is returned to the owner of a successfully acquired or extended lock.
type Handle struct {
	Target     Target    `json:"target"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Status is the externally visible state of a target's lock.
type Status struct {
	Target    Target        `json:"target"`
	Locked    bool          `json:"locked"`
	Owner     string        `json:"owner,omitempty"`
	ExpiresAt time.Time     `json:"expires_at,omitempty"`
	Remaining time.Duration `json:"remaining"`
}
