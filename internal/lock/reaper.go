package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/vcollab/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// SweepReport summarises one reaper pass
type SweepReport struct {
	Scanned  int
	Cleared  int
	Skipped  int // re-acquired or released between listing and clearing
	Failures []RecordFailure
	Duration time.Duration
}

// Reaper clears expired locks from every store it is given.
type Reaper struct {
	stores []Store
	now    func() time.Time
}

// NewReaper creates a reaper sweeping stores
func NewReaper(stores ...Store) *Reaper {
	return &Reaper{
		stores: stores,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithReaperClock replaces the clock used by Run
func (r *Reaper) WithReaperClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Run is the scheduled entry point
func (r *Reaper) Run(ctx context.Context) {
	report, err := r.Sweep(ctx, r.now())
	if err != nil {
		slog.Error("Lock sweep completed with failures",
			"cleared", report.Cleared,
			"failed", len(report.Failures),
			"error", err,
		)
		return
	}
	if report.Cleared > 0 {
		slog.Info("Cleaned expired locks",
			"cleared", report.Cleared,
			"skipped", report.Skipped,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}
}

// Sweep clears every lock whose expiry is strictly before now. Stores are swept
// concurrently; a failure on one record or one store never stops the rest of the pass.
// The returned error, if any, is a *SweepError listing every failure.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()

	var (
		mu     sync.Mutex
		report SweepReport
	)
	fail := func(f RecordFailure) {
		mu.Lock()
		report.Failures = append(report.Failures, f)
		mu.Unlock()
		metrics.ReaperFailures.Inc()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, store := range r.stores {
		store := store
		g.Go(func() error {
			expired, err := store.ListExpired(gctx, now)
			if err != nil {
				slog.Error("Failed to list expired locks", "store", store.Name(), "error", err)
				fail(RecordFailure{Store: store.Name(), Err: err})
				// Partial listings are still swept.
			}

			var cleared, skipped int
			for _, l := range expired {
				ok, err := store.ClearExpired(gctx, l.Target, now)
				if err != nil {
					slog.Warn("Failed to clear expired lock",
						"store", store.Name(),
						"target", l.Target.String(),
						"owner", l.Owner,
						"error", err,
					)
					fail(RecordFailure{Store: store.Name(), Target: l.Target, Err: err})
					continue
				}
				if !ok {
					skipped++
					continue
				}
				cleared++
				slog.Debug("Cleared expired lock",
					"store", store.Name(),
					"target", l.Target.String(),
					"owner", l.Owner,
					"expired_at", l.ExpiresAt,
				)
			}

			mu.Lock()
			report.Scanned += len(expired)
			report.Cleared += cleared
			report.Skipped += skipped
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	metrics.ReaperCleared.Add(float64(report.Cleared))
	metrics.ReaperSweepDuration.Observe(report.Duration.Seconds())

	if len(report.Failures) > 0 {
		return report, &SweepError{Failures: report.Failures}
	}
	return report, nil
}
