package lock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// flakyStore fails ClearExpired for selected targets and can simulate a concurrent
// re-acquire landing between ListExpired and ClearExpired.
type flakyStore struct {
	*MemoryStore
	failClear   map[Target]bool
	failList    bool
	beforeClear func(Target)
}

func (s *flakyStore) Name() string { return "flaky" }

func (s *flakyStore) ListExpired(ctx context.Context, now time.Time) ([]Lock, error) {
	if s.failList {
		return nil, errors.New("cursor died")
	}
	return s.MemoryStore.ListExpired(ctx, now)
}

func (s *flakyStore) ClearExpired(ctx context.Context, target Target, now time.Time) (bool, error) {
	if s.beforeClear != nil {
		s.beforeClear(target)
	}
	if s.failClear[target] {
		return false, fmt.Errorf("write conflict on %s", target)
	}
	return s.MemoryStore.ClearExpired(ctx, target, now)
}

func seed(t *testing.T, store Store, now time.Time, targets ...Target) {
	t.Helper()
	for _, target := range targets {
		_, err := store.TryAcquire(context.Background(), target, "U1", now, now.Add(10*time.Second))
		require.NoError(t, err)
	}
}

func target(n int) Target {
	return Target{Collection: "assets", RecordID: fmt.Sprintf("r-%d", n), FieldID: "name"}
}

func TestSweepEventualReclamation(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	seed(t, store, t0, target(1), target(2))
	reaper := NewReaper(store)

	// at expiry exactly nothing is reaped, the comparison is strict
	report, err := reaper.Sweep(ctx, t0.Add(10*time.Second))
	require.NoError(t, err)
	require.Zero(t, report.Cleared)

	report, err = reaper.Sweep(ctx, t0.Add(10*time.Second+time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 2, report.Cleared)
	require.Equal(t, 2, report.Scanned)

	expired, err := store.ListExpired(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestSweepContinuesOnError(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &flakyStore{MemoryStore: NewMemoryStore(), failClear: map[Target]bool{target(2): true}}
	seed(t, store.MemoryStore, t0, target(1), target(2), target(3))

	report, err := NewReaper(store).Sweep(ctx, t0.Add(time.Minute))
	require.Error(t, err)
	var sweepErr *SweepError
	require.True(t, errors.As(err, &sweepErr))
	require.Len(t, sweepErr.Failures, 1)
	require.Equal(t, target(2), sweepErr.Failures[0].Target)
	require.Equal(t, 2, report.Cleared)

	_, held, _ := store.Get(ctx, target(2))
	require.True(t, held)
	_, held, _ = store.Get(ctx, target(3))
	require.False(t, held)
}

func TestSweepListFailureDoesNotStopOtherStores(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	broken := &flakyStore{MemoryStore: NewMemoryStore(), failList: true}
	healthy := NewMemoryStore()
	seed(t, healthy, t0, target(1))

	report, err := NewReaper(broken, healthy).Sweep(ctx, t0.Add(time.Minute))
	require.Error(t, err)
	require.Equal(t, 1, report.Cleared)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "flaky", report.Failures[0].Store)
}

func TestSweepDoesNotClobberReacquiredLock(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sweepAt := t0.Add(time.Minute)
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	seed(t, store.MemoryStore, t0, target(1))

	// U2 acquires the elapsed lock after the reaper listed it
	store.beforeClear = func(tg Target) {
		_, err := store.MemoryStore.TryAcquire(ctx, tg, "U2", sweepAt, sweepAt.Add(30*time.Second))
		require.NoError(t, err)
	}

	report, err := NewReaper(store).Sweep(ctx, sweepAt)
	require.NoError(t, err)
	require.Equal(t, 0, report.Cleared)
	require.Equal(t, 1, report.Skipped)

	cur, held, _ := store.Get(ctx, target(1))
	require.True(t, held)
	require.Equal(t, "U2", cur.Owner)
}

func TestSweepRoutedStores(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	inline, standalone := NewMemoryStore(), NewMemoryStore()
	routed := NewRoutedStore(inline, standalone)
	seed(t, routed, t0, target(1), Target{Collection: "assets", RecordID: "r-9"})

	report, err := NewReaper(routed.Stores()...).Sweep(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, report.Cleared)
}
