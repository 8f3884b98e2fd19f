package topology

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies fetch failures
type FetchErrorKind string

const (
	KindTimeout FetchErrorKind = "timeout"
	KindAuth    FetchErrorKind = "auth"
	KindPartial FetchErrorKind = "partial"
	KindSource  FetchErrorKind = "source"
)

var (
	ErrFetchTimeout = errors.New("topology fetch timed out")
	ErrFetchAuth    = errors.New("topology source rejected credentials")
	ErrFetchPartial = errors.New("topology fetch reached only some hosts")
)

// FetchError is returned by Fetcher.Fetch and by sources that can classify their own
// failures. Partial failures carry the per-host failures next to the retrieved subset.
type FetchError struct {
	Kind     FetchErrorKind
	Err      error
	Failures []HostFailure
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindPartial:
		return fmt.Sprintf("%v: %d host(s) unreachable", ErrFetchPartial, len(e.Failures))
	case KindTimeout:
		return fmt.Sprintf("%v: %v", ErrFetchTimeout, e.Err)
	case KindAuth:
		return fmt.Sprintf("%v: %v", ErrFetchAuth, e.Err)
	default:
		return fmt.Sprintf("topology fetch failed: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrFetchTimeout:
		return e.Kind == KindTimeout
	case ErrFetchAuth:
		return e.Kind == KindAuth
	case ErrFetchPartial:
		return e.Kind == KindPartial
	}
	return false
}

// Kind extracts the failure kind of err, KindSource if it is not a FetchError
func Kind(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindSource
}
