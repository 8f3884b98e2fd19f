package topology

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource ignores cancellation, it answers when release is closed
type stubSource struct {
	release chan struct{}
	inv     RawInventory
	err     error
}

func (s *stubSource) Kind() SourceKind { return SourceLive }

func (s *stubSource) Inventory(context.Context) (RawInventory, error) {
	if s.release != nil {
		<-s.release
	}
	return s.inv, s.err
}

type recordingReporter struct {
	mu        sync.Mutex
	failed    []int
	recovered int
}

func (r *recordingReporter) FetchFailed(_ context.Context, snap Snapshot, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, snap.ConsecutiveFailures)
}

func (r *recordingReporter) FetchRecovered(context.Context, Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered++
}

func TestFetchPublishesMockInventory(t *testing.T) {
	src := NewMockSource(2, 3)
	cache := NewCache()
	f := NewFetcher(src, cache, FetcherConfig{Timeout: time.Second})

	require.NoError(t, f.Run(context.Background()))

	snap := cache.Get()
	assert.True(t, snap.Ready())
	assert.False(t, snap.Stale)
	assert.Equal(t, SourceMock, snap.Source)
	assert.Len(t, snap.VMs, 6)
	assert.Len(t, snap.Hosts, 2)
	assert.Equal(t, uint64(1), snap.Version)
}

func TestFetchTimeoutMarksStaleAndKeepsSnapshot(t *testing.T) {
	src := NewMockSource(1, 2)
	cache := NewCache()
	f := NewFetcher(src, cache, FetcherConfig{Timeout: 50 * time.Millisecond})

	require.NoError(t, f.Run(context.Background()))
	before := cache.Get()

	src.SetDelay(time.Second)
	err := f.Run(context.Background())
	require.ErrorIs(t, err, ErrFetchTimeout)
	assert.Equal(t, KindTimeout, Kind(err))

	after := cache.Get()
	assert.True(t, after.Stale)
	assert.Equal(t, 1, after.ConsecutiveFailures)
	assert.Equal(t, before.FetchedAt, after.FetchedAt)
	assert.Equal(t, before.VMs, after.VMs)
	assert.NotEmpty(t, after.LastError)
}

func TestLateResultIsDiscarded(t *testing.T) {
	src := &stubSource{
		release: make(chan struct{}),
		inv:     RawInventory{VMs: []VM{{MOID: "vm-1", Parent: "host-1"}}},
	}
	cache := NewCache()
	f := NewFetcher(src, cache, FetcherConfig{Timeout: 20 * time.Millisecond})

	err := f.Run(context.Background())
	require.ErrorIs(t, err, ErrFetchTimeout)

	close(src.release)
	time.Sleep(50 * time.Millisecond)

	snap := cache.Get()
	assert.False(t, snap.Ready())
	assert.Empty(t, snap.VMs)
	assert.True(t, snap.Stale)
}

func TestFetchAuthFailure(t *testing.T) {
	src := &stubSource{err: &FetchError{Kind: KindAuth, Err: errors.New("InvalidLogin")}}
	f := NewFetcher(src, NewCache(), FetcherConfig{Timeout: time.Second})

	err := f.Run(context.Background())
	require.ErrorIs(t, err, ErrFetchAuth)
	assert.False(t, errors.Is(err, ErrFetchTimeout))
}

func TestFetchSourceErrorIsClassified(t *testing.T) {
	src := &stubSource{err: errors.New("connection refused")}
	f := NewFetcher(src, NewCache(), FetcherConfig{Timeout: time.Second})

	err := f.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindSource, Kind(err))
}

func TestPartialFetchPolicy(t *testing.T) {
	t.Run("published when allowed", func(t *testing.T) {
		src := NewMockSource(3, 2)
		src.SetUnreachable("host-2")
		cache := NewCache()
		f := NewFetcher(src, cache, FetcherConfig{Timeout: time.Second, AllowPartial: true})

		err := f.Run(context.Background())
		require.ErrorIs(t, err, ErrFetchPartial)

		snap := cache.Get()
		assert.False(t, snap.Stale)
		assert.Len(t, snap.VMs, 4)
		require.Len(t, snap.Failures, 1)
		assert.Equal(t, "host-2", snap.Failures[0].Host)
	})

	t.Run("treated as failure otherwise", func(t *testing.T) {
		src := NewMockSource(3, 2)
		src.SetUnreachable("host-2")
		cache := NewCache()
		f := NewFetcher(src, cache, FetcherConfig{Timeout: time.Second})

		err := f.Run(context.Background())
		require.ErrorIs(t, err, ErrFetchPartial)

		var fe *FetchError
		require.True(t, errors.As(err, &fe))
		assert.Len(t, fe.Failures, 1)
		assert.True(t, cache.Get().Stale)
		assert.False(t, cache.Get().Ready())
	})
}

func TestPartialFetchWithEveryHostDownKeepsLastSnapshot(t *testing.T) {
	src := NewMockSource(2, 3)
	cache := NewCache()
	reporter := &recordingReporter{}
	f := NewFetcher(src, cache, FetcherConfig{Timeout: time.Second, AllowPartial: true}, WithReporter(reporter))

	require.NoError(t, f.Run(context.Background()))
	good := cache.Get()
	require.Len(t, good.VMs, 6)

	src.SetUnreachable("host-1", "host-2")
	err := f.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFetchPartial)
	assert.Equal(t, KindSource, Kind(err))

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Len(t, fe.Failures, 2)

	snap := cache.Get()
	assert.True(t, snap.Stale)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Len(t, snap.VMs, 6)
	assert.Equal(t, good.FetchedAt, snap.FetchedAt)

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	assert.Equal(t, []int{1}, reporter.failed)
	assert.Zero(t, reporter.recovered)
}

func TestReachedAny(t *testing.T) {
	hosts := []Host{{MOID: "host-1"}, {MOID: "host-2"}}
	vms := []VM{{MOID: "vm-1", Parent: "host-1"}}

	assert.True(t, reachedAny(RawInventory{Hosts: hosts, VMs: vms, Failures: []HostFailure{{Host: "host-2"}}}))
	assert.False(t, reachedAny(RawInventory{Hosts: hosts, VMs: vms, Failures: []HostFailure{{Host: "host-1"}, {Host: "host-2"}}}))
	assert.False(t, reachedAny(RawInventory{Hosts: hosts, Failures: []HostFailure{{Host: "host-2"}}}))
}

func TestRunSkipsWhileInFlight(t *testing.T) {
	src := &stubSource{release: make(chan struct{})}
	f := NewFetcher(src, NewCache(), FetcherConfig{Timeout: 5 * time.Second})

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()
	require.Eventually(t, f.InFlight, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.Run(context.Background()), ErrFetchInProgress)
	assert.ErrorIs(t, f.Refresh(context.Background()), ErrFetchInProgress)

	close(src.release)
	require.NoError(t, <-done)
	assert.False(t, f.InFlight())
}

func TestRefreshRunsInBackground(t *testing.T) {
	src := NewMockSource(1, 1)
	cache := NewCache()
	f := NewFetcher(src, cache, FetcherConfig{Timeout: time.Second})

	require.NoError(t, f.Refresh(context.Background()))
	require.Eventually(t, func() bool { return cache.Get().Ready() && !f.InFlight() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, src.Calls())
}

func TestReporterFailureAndRecovery(t *testing.T) {
	src := NewMockSource(1, 1)
	rep := &recordingReporter{}
	f := NewFetcher(src, NewCache(), FetcherConfig{Timeout: time.Second}, WithReporter(rep))

	require.NoError(t, f.Run(context.Background()))
	src.SetFailure(errors.New("boom"))
	require.Error(t, f.Run(context.Background()))
	require.Error(t, f.Run(context.Background()))
	src.SetFailure(nil)
	require.NoError(t, f.Run(context.Background()))
	require.NoError(t, f.Run(context.Background()))

	assert.Equal(t, []int{1, 2}, rep.failed)
	assert.Equal(t, 1, rep.recovered)
}

func TestCancelledRunDoesNotMarkStale(t *testing.T) {
	src := NewMockSource(1, 1)
	src.SetDelay(time.Second)
	cache := NewCache()
	f := NewFetcher(src, cache, FetcherConfig{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, cache.Get().Stale)
	assert.Equal(t, uint64(0), cache.Version())
}
