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

type memoryMirror struct {
	mu      sync.Mutex
	saved   []Snapshot
	loaded  *Snapshot
	saveErr error
}

func (m *memoryMirror) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, snap)
	return nil
}

func (m *memoryMirror) Load(context.Context) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded == nil {
		return Snapshot{}, false, nil
	}
	return *m.loaded, true, nil
}

var fetchTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleInventory() RawInventory {
	return RawInventory{
		VMs: []VM{
			{MOID: "vm-2", Parent: "host-1"},
			{MOID: "vm-1", Parent: "host-1"},
		},
		Hosts: []Host{{MOID: "host-1", Name: "esx-01"}},
		Links: []Link{{From: "vm-2", To: "vm-1", Labels: []string{"vlan-100"}}},
	}
}

func TestCacheGetBeforePublish(t *testing.T) {
	c := NewCache()
	snap := c.Get()
	assert.False(t, snap.Ready())
	assert.Empty(t, snap.VMs)
	assert.Equal(t, uint64(0), c.Version())
}

func TestCachePublishNormalizesAndClearsStale(t *testing.T) {
	ctx := context.Background()
	c := NewCache(WithCacheClock(func() time.Time { return fetchTime.Add(time.Minute) }))

	c.Publish(ctx, sampleInventory(), SourceLive, fetchTime)
	stale := c.MarkStale(ctx, errors.New("timeout"))
	require.True(t, stale.Stale)
	assert.Equal(t, fetchTime, stale.FetchedAt)
	assert.Equal(t, fetchTime.Add(time.Minute), stale.LastAttempt)
	assert.Equal(t, "timeout", stale.LastError)

	snap := c.Publish(ctx, sampleInventory(), SourceLive, fetchTime.Add(2*time.Minute))
	assert.False(t, snap.Stale)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, uint64(3), snap.Version)
	assert.Equal(t, "vm-1", snap.VMs[0].MOID)
	assert.Equal(t, Link{From: "vm-1", To: "vm-2", Labels: []string{"vlan-100"}}, snap.Links[0])
}

func TestCacheMarkStaleCountsFailures(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	c.Publish(ctx, sampleInventory(), SourceMock, fetchTime)

	c.MarkStale(ctx, errors.New("a"))
	snap := c.MarkStale(ctx, errors.New("b"))
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.Equal(t, "b", snap.LastError)
	assert.Len(t, snap.VMs, 2)
	assert.Equal(t, SourceMock, snap.Source)
}

func TestCacheReadersNeverSeeTornSnapshots(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := c.Get()
				if snap.Ready() {
					assert.Len(t, snap.VMs, 2)
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%3 == 0 {
			c.MarkStale(ctx, errors.New("flaky"))
			continue
		}
		c.Publish(ctx, sampleInventory(), SourceMock, fetchTime.Add(time.Duration(i)*time.Second))
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, uint64(200), c.Version())
}

func TestCacheMirror(t *testing.T) {
	ctx := context.Background()

	t.Run("writes through", func(t *testing.T) {
		m := &memoryMirror{}
		c := NewCache(WithMirror(m))
		c.Publish(ctx, sampleInventory(), SourceLive, fetchTime)
		c.MarkStale(ctx, errors.New("down"))

		require.Len(t, m.saved, 2)
		assert.True(t, m.saved[1].Stale)
	})

	t.Run("save failure is not surfaced", func(t *testing.T) {
		m := &memoryMirror{saveErr: errors.New("redis down")}
		c := NewCache(WithMirror(m))
		snap := c.Publish(ctx, sampleInventory(), SourceLive, fetchTime)
		assert.Equal(t, snap, c.Get())
	})

	t.Run("warm serves mirrored snapshot as stale", func(t *testing.T) {
		m := &memoryMirror{loaded: &Snapshot{Version: 17, VMs: []VM{{MOID: "vm-9"}}, FetchedAt: fetchTime}}
		c := NewCache(WithMirror(m))

		ok, err := c.Warm(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		snap := c.Get()
		assert.True(t, snap.Stale)
		assert.Equal(t, uint64(1), snap.Version)
		assert.Equal(t, fetchTime, snap.FetchedAt)

		next := c.Publish(ctx, sampleInventory(), SourceLive, fetchTime.Add(time.Minute))
		assert.False(t, next.Stale)
		assert.Equal(t, uint64(2), next.Version)
	})

	t.Run("warm does not replace a published snapshot", func(t *testing.T) {
		m := &memoryMirror{loaded: &Snapshot{VMs: []VM{{MOID: "vm-9"}}, FetchedAt: fetchTime}}
		c := NewCache(WithMirror(m))
		c.Publish(ctx, sampleInventory(), SourceLive, fetchTime.Add(time.Hour))

		ok, err := c.Warm(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, c.Get().VMs, 2)
	})

	t.Run("warm without mirror", func(t *testing.T) {
		ok, err := NewCache().Warm(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
