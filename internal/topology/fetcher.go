package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dandantas/vcollab/internal/metrics"
)

const DefaultFetchTimeout = 30 * time.Second

// ErrFetchInProgress is returned when a run is requested while another one is active
var ErrFetchInProgress = errors.New("topology fetch already in progress")

// Reporter is told about failed and recovered fetch cycles
type Reporter interface {
	FetchFailed(ctx context.Context, snap Snapshot, err error)
	FetchRecovered(ctx context.Context, snap Snapshot)
}

// FetcherConfig holds fetch tuning
type FetcherConfig struct {
	Timeout      time.Duration
	AllowPartial bool
}

// Fetcher pulls inventory from a Source and publishes it into a Cache.
type Fetcher struct {
	source       Source
	cache        *Cache
	timeout      time.Duration
	allowPartial bool
	reporter     Reporter
	now          func() time.Time

	running atomic.Bool
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithReporter registers r for failure and recovery events
func WithReporter(r Reporter) FetcherOption {
	return func(f *Fetcher) { f.reporter = r }
}

// WithFetcherClock replaces time.Now
func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

func NewFetcher(source Source, cache *Cache, cfg FetcherConfig, opts ...FetcherOption) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	f := &Fetcher{
		source:       source,
		cache:        cache,
		timeout:      cfg.Timeout,
		allowPartial: cfg.AllowPartial,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type fetchResult struct {
	inv RawInventory
	err error
}

// Fetch retrieves one inventory bounded by the configured timeout. A result that
// arrives after the deadline is dropped. Unreachable hosts yield a partial FetchError
// together with the inventory of the reachable ones; when no host could be read the
// result is a source failure and no inventory is returned.
func (f *Fetcher) Fetch(ctx context.Context) (RawInventory, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	results := make(chan fetchResult, 1)
	go func() {
		inv, err := f.source.Inventory(ctx)
		results <- fetchResult{inv: inv, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return RawInventory{}, &FetchError{Kind: KindTimeout, Err: fmt.Errorf("no inventory after %s", f.timeout)}
			}
			return RawInventory{}, classify(r.err)
		}
		if len(r.inv.Failures) > 0 {
			if !reachedAny(r.inv) {
				return RawInventory{}, &FetchError{
					Kind:     KindSource,
					Err:      fmt.Errorf("no inventory retrieved, %d host(s) unreachable", len(r.inv.Failures)),
					Failures: r.inv.Failures,
				}
			}
			return r.inv, &FetchError{Kind: KindPartial, Failures: r.inv.Failures}
		}
		return r.inv, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return RawInventory{}, &FetchError{Kind: KindTimeout, Err: fmt.Errorf("no inventory after %s", f.timeout)}
		}
		return RawInventory{}, ctx.Err()
	}
}

// reachedAny reports whether a result with host failures still carries usable
// inventory: at least one host answered and at least one VM was retrieved.
func reachedAny(inv RawInventory) bool {
	if len(inv.VMs) == 0 {
		return false
	}
	failed := make(map[string]bool, len(inv.Failures))
	for _, f := range inv.Failures {
		failed[f.Host] = true
	}
	for _, h := range inv.Hosts {
		if !failed[h.MOID] {
			return true
		}
	}
	return false
}

// Run performs one fetch cycle unless another one is in flight.
func (f *Fetcher) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		metrics.FetchResults.WithLabelValues("skipped").Inc()
		slog.Debug("Topology fetch still running, skipping cycle")
		return ErrFetchInProgress
	}
	defer f.running.Store(false)
	return f.cycle(ctx)
}

// Refresh starts an out-of-band cycle in the background. It returns ErrFetchInProgress
// when a cycle is already running.
func (f *Fetcher) Refresh(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		metrics.FetchResults.WithLabelValues("skipped").Inc()
		return ErrFetchInProgress
	}
	go func() {
		defer f.running.Store(false)
		if err := f.cycle(context.WithoutCancel(ctx)); err != nil {
			slog.Debug("Manual topology refresh finished with error", "error", err)
		}
	}()
	return nil
}

// InFlight reports whether a cycle is running
func (f *Fetcher) InFlight() bool {
	return f.running.Load()
}

func (f *Fetcher) cycle(ctx context.Context) error {
	start := time.Now()
	previous := f.cache.Get()

	inv, err := f.Fetch(ctx)
	duration := time.Since(start)
	metrics.FetchDuration.Observe(duration.Seconds())

	if err == nil {
		snap := f.cache.Publish(ctx, inv, f.source.Kind(), f.now())
		metrics.FetchResults.WithLabelValues("success").Inc()
		slog.Info("Topology snapshot published",
			"version", snap.Version,
			"vms", len(snap.VMs),
			"links", len(snap.Links),
			"duration_ms", duration.Milliseconds(),
		)
		f.recovered(ctx, previous, snap)
		return nil
	}

	if ctx.Err() != nil && !errors.Is(err, ErrFetchTimeout) {
		slog.Debug("Topology fetch cancelled", "error", err)
		return err
	}

	kind := Kind(err)
	metrics.FetchResults.WithLabelValues(string(kind)).Inc()

	if kind == KindPartial && f.allowPartial {
		snap := f.cache.Publish(ctx, inv, f.source.Kind(), f.now())
		slog.Warn("Published partial topology snapshot",
			"version", snap.Version,
			"vms", len(snap.VMs),
			"failed_hosts", len(snap.Failures),
		)
		f.recovered(ctx, previous, snap)
		return err
	}

	snap := f.cache.MarkStale(ctx, err)
	slog.Error("Topology fetch failed, serving stale snapshot",
		"kind", kind,
		"consecutive_failures", snap.ConsecutiveFailures,
		"fetched_at", snap.FetchedAt,
		"error", err,
	)
	if f.reporter != nil {
		f.reporter.FetchFailed(ctx, snap, err)
	}
	return err
}

func (f *Fetcher) recovered(ctx context.Context, previous, snap Snapshot) {
	if previous.ConsecutiveFailures == 0 || f.reporter == nil {
		return
	}
	f.reporter.FetchRecovered(ctx, snap)
}
