package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Store persists lock state. Every mutating method is a single conditional write on one
// target: the precondition is evaluated by the store at write time, never by the caller
// from an earlier read.
type Store interface {
	// Name identifies the store in logs and sweep reports
	Name() string

	// TryAcquire records owner until expires if the target has no owner or its expiry is
	// at or before now. Returns ErrConflict otherwise.
	TryAcquire(ctx context.Context, target Target, owner string, now, expires time.Time) (Lock, error)

	// Extend moves the expiry if owner holds a lock that is still live at now.
	// Returns ErrNotOwned otherwise.
	Extend(ctx context.Context, target Target, owner string, now, expires time.Time) (Lock, error)

	// Release clears the lock if it is recorded for owner, live or expired.
	// Reports whether anything was cleared.
	Release(ctx context.Context, target Target, owner string) (bool, error)

	// Get returns the stored lock, if any
	Get(ctx context.Context, target Target) (Lock, bool, error)

	// ListExpired returns locks whose expiry is strictly before now
	ListExpired(ctx context.Context, now time.Time) ([]Lock, error)

	// ClearExpired clears the lock only if its expiry is still strictly before now.
	// Reports whether anything was cleared.
	ClearExpired(ctx context.Context, target Target, now time.Time) (bool, error)
}

// MemoryStore is a process-local Store. It backs tests and mock deployments.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[Target]Lock
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[Target]Lock),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) TryAcquire(_ context.Context, target Target, owner string, now, expires time.Time) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.locks[target]; ok && cur.LiveAt(now) {
		return Lock{}, ErrConflict
	}

	l := Lock{Target: target, Owner: owner, ExpiresAt: expires}
	s.locks[target] = l
	return l, nil
}

func (s *MemoryStore) Extend(_ context.Context, target Target, owner string, now, expires time.Time) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[target]
	if !ok || cur.Owner != owner || !cur.LiveAt(now) {
		return Lock{}, ErrNotOwned
	}

	cur.ExpiresAt = expires
	s.locks[target] = cur
	return cur, nil
}

func (s *MemoryStore) Release(_ context.Context, target Target, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[target]
	if !ok || cur.Owner != owner {
		return false, nil
	}
	delete(s.locks, target)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, target Target) (Lock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[target]
	return cur, ok, nil
}

func (s *MemoryStore) ListExpired(_ context.Context, now time.Time) ([]Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Lock
	for _, l := range s.locks {
		if l.ExpiredAt(now) {
			expired = append(expired, l)
		}
	}
	return expired, nil
}

func (s *MemoryStore) ClearExpired(_ context.Context, target Target, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[target]
	if !ok || !cur.ExpiredAt(now) {
		return false, nil
	}
	delete(s.locks, target)
	return true, nil
}

// RoutedStore sends field targets to the inline store and record targets to the
// standalone store, so both representations share one Manager.
type RoutedStore struct {
	inline     Store
	standalone Store
}

// NewRoutedStore combines an inline and a standalone store
func NewRoutedStore(inline, standalone Store) *RoutedStore {
	return &RoutedStore{inline: inline, standalone: standalone}
}

func (s *RoutedStore) Name() string { return "routed" }

func (s *RoutedStore) route(target Target) Store {
	if target.Inline() {
		return s.inline
	}
	return s.standalone
}

func (s *RoutedStore) TryAcquire(ctx context.Context, target Target, owner string, now, expires time.Time) (Lock, error) {
	return s.route(target).TryAcquire(ctx, target, owner, now, expires)
}

func (s *RoutedStore) Extend(ctx context.Context, target Target, owner string, now, expires time.Time) (Lock, error) {
	return s.route(target).Extend(ctx, target, owner, now, expires)
}

func (s *RoutedStore) Release(ctx context.Context, target Target, owner string) (bool, error) {
	return s.route(target).Release(ctx, target, owner)
}

func (s *RoutedStore) Get(ctx context.Context, target Target) (Lock, bool, error) {
	return s.route(target).Get(ctx, target)
}

// ListExpired merges both stores. A failing store does not hide the other's locks.
func (s *RoutedStore) ListExpired(ctx context.Context, now time.Time) ([]Lock, error) {
	var (
		all  []Lock
		errs []error
	)
	for _, st := range []Store{s.inline, s.standalone} {
		locks, err := st.ListExpired(ctx, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Name(), err))
			continue
		}
		all = append(all, locks...)
	}
	return all, errors.Join(errs...)
}

func (s *RoutedStore) ClearExpired(ctx context.Context, target Target, now time.Time) (bool, error) {
	return s.route(target).ClearExpired(ctx, target, now)
}

// Stores returns the underlying stores for sweeping
func (s *RoutedStore) Stores() []Store {
	return []Store{s.inline, s.standalone}
}
