package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/vcollab/internal/config"
	"github.com/dandantas/vcollab/internal/lock"
	"github.com/dandantas/vcollab/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnStartAndTicks(t *testing.T) {
	var calls atomic.Int32
	s := NewWithTasks(Task{
		Name:       "count",
		Interval:   time.Second,
		RunOnStart: true,
		Run: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 500*time.Millisecond, 10*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)
}

func TestSkipIfRunningAndStopCancels(t *testing.T) {
	var calls, running, maxRunning atomic.Int32
	s := NewWithTasks(Task{
		Name:          "slow",
		Interval:      time.Second,
		RunOnStart:    true,
		SkipIfRunning: true,
		Run: func(ctx context.Context) error {
			calls.Add(1)
			n := running.Add(1)
			defer running.Add(-1)
			if n > maxRunning.Load() {
				maxRunning.Store(n)
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(2200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	s.Stop(stopCtx)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Equal(t, int32(0), running.Load())
}

func TestPanickingTaskIsRecovered(t *testing.T) {
	var calls atomic.Int32
	s := NewWithTasks(Task{
		Name:       "panics",
		Interval:   time.Second,
		RunOnStart: true,
		Run: func(context.Context) error {
			calls.Add(1)
			panic("boom")
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartRejectsInvalidInterval(t *testing.T) {
	s := NewWithTasks(Task{Name: "bad", Run: func(context.Context) error { return nil }})
	require.Error(t, s.Start(context.Background()))
}

func TestNewHonoursConfig(t *testing.T) {
	reaper := lock.NewReaper(lock.NewMemoryStore())
	fetcher := topology.NewFetcher(topology.NewMockSource(1, 1), topology.NewCache(), topology.FetcherConfig{})

	cfg := &config.Config{ReaperEnabled: true, ReaperInterval: 10 * time.Second, FetchEnabled: false}
	s := New(cfg, reaper, fetcher)
	require.Len(t, s.tasks, 1)
	assert.Equal(t, "lock-reaper", s.tasks[0].Name)
	assert.False(t, s.tasks[0].SkipIfRunning)

	cfg.FetchEnabled = true
	cfg.FetchInterval = time.Minute
	s = New(cfg, reaper, fetcher)
	require.Len(t, s.tasks, 2)
	assert.True(t, s.tasks[1].SkipIfRunning)
	assert.True(t, s.tasks[1].RunOnStart)

	s = New(&config.Config{}, reaper, fetcher)
	assert.Empty(t, s.tasks)
	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())
}

func TestFetchTaskPublishesSnapshot(t *testing.T) {
	cache := topology.NewCache()
	fetcher := topology.NewFetcher(topology.NewMockSource(2, 2), cache, topology.FetcherConfig{Timeout: time.Second})

	s := NewWithTasks(FetchTask(fetcher, time.Minute))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return cache.Get().Ready() }, time.Second, 10*time.Millisecond)
	assert.Len(t, cache.Get().VMs, 4)
}

func TestConcurrentStartAndStop(t *testing.T) {
	s := NewWithTasks(Task{
		Name:     "idle",
		Interval: time.Hour,
		Run:      func(context.Context) error { return nil },
	})

	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Start(context.Background()) == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), started.Load())

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop(context.Background())
		}()
	}
	wg.Wait()
}
