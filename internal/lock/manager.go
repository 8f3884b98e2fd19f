package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/vcollab/internal/metrics"
)

const (
	DefaultTTL = 30 * time.Second
	MaxTTL     = 10 * time.Minute
)

// Manager implements acquire, extend and release on top of a Store's conditional writes.
type Manager struct {
	store      Store
	now        func() time.Time
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDefaultTTL sets the TTL used when a caller passes a non-positive one
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithMaxTTL caps caller supplied TTLs
func WithMaxTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.maxTTL = ttl
		}
	}
}

// NewManager creates a lock manager over store
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
		defaultTTL: DefaultTTL,
		maxTTL:     MaxTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.defaultTTL > m.maxTTL {
		m.defaultTTL = m.maxTTL
	}
	return m
}

func (m *Manager) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return m.defaultTTL
	}
	if ttl > m.maxTTL {
		return m.maxTTL
	}
	return ttl
}

func validate(target Target, owner string) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if owner == "" {
		return ErrInvalidOwner
	}
	return nil
}

// Acquire claims target for owner. When another owner holds a live lock the returned
// error is a *ConflictError carrying the holder and the remaining time.
func (m *Manager) Acquire(ctx context.Context, target Target, owner string, ttl time.Duration) (Handle, error) {
	if err := validate(target, owner); err != nil {
		return Handle{}, err
	}
	ttl = m.ttl(ttl)

	// The holder read after a failed write is for reporting only. If it shows the lock
	// has gone in between, the write is attempted once more.
	for attempt := 0; attempt < 2; attempt++ {
		now := m.now()
		l, err := m.store.TryAcquire(ctx, target, owner, now, now.Add(ttl))
		if err == nil {
			metrics.LockOperations.WithLabelValues("acquire", "ok").Inc()
			slog.Debug("Lock acquired",
				"target", target.String(),
				"owner", owner,
				"expires_at", l.ExpiresAt,
			)
			return Handle{Target: target, Owner: owner, AcquiredAt: now, ExpiresAt: l.ExpiresAt}, nil
		}
		if !errors.Is(err, ErrConflict) {
			metrics.LockOperations.WithLabelValues("acquire", "error").Inc()
			return Handle{}, fmt.Errorf("failed to acquire lock on %s: %w", target, err)
		}

		cur, held, err := m.store.Get(ctx, target)
		if err != nil {
			metrics.LockOperations.WithLabelValues("acquire", "error").Inc()
			return Handle{}, fmt.Errorf("failed to read lock holder of %s: %w", target, err)
		}
		now = m.now()
		if held && cur.LiveAt(now) {
			metrics.LockOperations.WithLabelValues("acquire", "conflict").Inc()
			slog.Debug("Lock conflict",
				"target", target.String(),
				"owner", owner,
				"holder", cur.Owner,
				"expires_at", cur.ExpiresAt,
			)
			return Handle{}, &ConflictError{
				Target:    target,
				Owner:     cur.Owner,
				ExpiresAt: cur.ExpiresAt,
				Remaining: cur.Remaining(now),
			}
		}
	}

	metrics.LockOperations.WithLabelValues("acquire", "conflict").Inc()
	return Handle{}, &ConflictError{Target: target}
}

// Extend moves the expiry of owner's live lock to now+ttl
func (m *Manager) Extend(ctx context.Context, target Target, owner string, ttl time.Duration) (Handle, error) {
	if err := validate(target, owner); err != nil {
		return Handle{}, err
	}
	now := m.now()

	l, err := m.store.Extend(ctx, target, owner, now, now.Add(m.ttl(ttl)))
	if err != nil {
		if errors.Is(err, ErrNotOwned) {
			metrics.LockOperations.WithLabelValues("extend", "not_owned").Inc()
			return Handle{}, fmt.Errorf("cannot extend %s as %s: %w", target, owner, ErrNotOwned)
		}
		metrics.LockOperations.WithLabelValues("extend", "error").Inc()
		return Handle{}, fmt.Errorf("failed to extend lock on %s: %w", target, err)
	}

	metrics.LockOperations.WithLabelValues("extend", "ok").Inc()
	slog.Debug("Lock extended",
		"target", target.String(),
		"owner", owner,
		"new_expires_at", l.ExpiresAt,
	)
	return Handle{Target: target, Owner: owner, ExpiresAt: l.ExpiresAt}, nil
}

// Release gives up owner's lock. Releasing a lock that is already free or expired is
// not an error; releasing another owner's live lock returns ErrNotOwned.
func (m *Manager) Release(ctx context.Context, target Target, owner string) error {
	if err := validate(target, owner); err != nil {
		return err
	}

	released, err := m.store.Release(ctx, target, owner)
	if err != nil {
		metrics.LockOperations.WithLabelValues("release", "error").Inc()
		return fmt.Errorf("failed to release lock on %s: %w", target, err)
	}
	if released {
		metrics.LockOperations.WithLabelValues("release", "ok").Inc()
		slog.Debug("Lock released", "target", target.String(), "owner", owner)
		return nil
	}

	cur, held, err := m.store.Get(ctx, target)
	if err != nil {
		if errors.Is(err, ErrTargetNotFound) {
			metrics.LockOperations.WithLabelValues("release", "noop").Inc()
			return nil
		}
		metrics.LockOperations.WithLabelValues("release", "error").Inc()
		return fmt.Errorf("failed to read lock holder of %s: %w", target, err)
	}
	if held && cur.Owner != owner && cur.LiveAt(m.now()) {
		metrics.LockOperations.WithLabelValues("release", "not_owned").Inc()
		return fmt.Errorf("cannot release %s as %s: %w", target, owner, ErrNotOwned)
	}

	metrics.LockOperations.WithLabelValues("release", "noop").Inc()
	return nil
}

// Status reports who currently holds target. Elapsed locks are reported as unlocked.
func (m *Manager) Status(ctx context.Context, target Target) (Status, error) {
	if err := target.Validate(); err != nil {
		return Status{}, err
	}

	cur, held, err := m.store.Get(ctx, target)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read lock on %s: %w", target, err)
	}

	now := m.now()
	st := Status{Target: target}
	if held && cur.LiveAt(now) {
		st.Locked = true
		st.Owner = cur.Owner
		st.ExpiresAt = cur.ExpiresAt
		st.Remaining = cur.Remaining(now)
	}
	return st, nil
}
