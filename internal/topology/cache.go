package topology

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dandantas/vcollab/internal/metrics"
)

const defaultMirrorTimeout = 2 * time.Second

// Mirror persists snapshots outside the process so a restart can serve the last known
// topology before the first fetch completes.
type Mirror interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
}

// Cache holds the current snapshot. Readers load a pointer and never wait; writers are
// serialized and replace the pointer with a new snapshot value.
type Cache struct {
	current atomic.Pointer[Snapshot]

	mu            sync.Mutex
	mirror        Mirror
	mirrorTimeout time.Duration
	now           func() time.Time
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithMirror writes every change through to m
func WithMirror(m Mirror) CacheOption {
	return func(c *Cache) { c.mirror = m }
}

// WithCacheClock replaces time.Now
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		mirrorTimeout: defaultMirrorTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current snapshot, the zero Snapshot if nothing was published yet.
func (c *Cache) Get() Snapshot {
	if s := c.current.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Version increases with every change of the served snapshot
func (c *Cache) Version() uint64 {
	if s := c.current.Load(); s != nil {
		return s.Version
	}
	return 0
}

// Publish replaces the snapshot with inv and clears staleness.
func (c *Cache) Publish(ctx context.Context, inv RawInventory, source SourceKind, fetchedAt time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	inv = Normalize(inv)
	next := Snapshot{
		Version:     c.Version() + 1,
		VMs:         inv.VMs,
		Hosts:       inv.Hosts,
		Links:       inv.Links,
		Failures:    inv.Failures,
		FetchedAt:   fetchedAt,
		Source:      source,
		LastAttempt: fetchedAt,
	}
	c.store(ctx, next)
	return next
}

// MarkStale records a failed refresh. The snapshot content and its fetch time are kept.
func (c *Cache) MarkStale(ctx context.Context, cause error) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.Get()
	next.Version++
	next.Stale = true
	next.ConsecutiveFailures++
	next.LastAttempt = c.now()
	next.LastError = ""
	if cause != nil {
		next.LastError = cause.Error()
	}
	c.store(ctx, next)
	return next
}

// Warm loads the mirrored snapshot when nothing has been published yet. The loaded
// snapshot is served as stale until a fetch succeeds.
func (c *Cache) Warm(ctx context.Context) (bool, error) {
	if c.mirror == nil {
		return false, nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, c.mirrorTimeout)
	defer cancel()
	snap, ok, err := c.mirror.Load(loadCtx)
	if err != nil || !ok {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.Load() != nil {
		return false, nil
	}
	snap.Version = 1
	snap.Stale = true
	c.current.Store(&snap)
	c.observe(snap)

	slog.Info("Topology cache warmed from mirror",
		"vms", len(snap.VMs),
		"fetched_at", snap.FetchedAt,
	)
	return true, nil
}

func (c *Cache) store(ctx context.Context, next Snapshot) {
	c.current.Store(&next)
	c.observe(next)

	if c.mirror == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.mirrorTimeout)
	defer cancel()
	if err := c.mirror.Save(saveCtx, next); err != nil {
		slog.Warn("Failed to mirror topology snapshot",
			"version", next.Version,
			"error", err,
		)
	}
}

func (c *Cache) observe(s Snapshot) {
	stale := 0.0
	if s.Stale {
		stale = 1
	}
	metrics.SnapshotStale.Set(stale)
	metrics.ConsecutiveFetchFailures.Set(float64(s.ConsecutiveFailures))
	if s.Ready() {
		metrics.SnapshotFetchedAt.Set(float64(s.FetchedAt.Unix()))
	}
}
