package graph

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dandantas/vcollab/internal/topology"
	"golang.org/x/sync/singleflight"
)

// Service serves the graph of the current cache snapshot. Concurrent requests for the
// same snapshot version share one build, and the last graph is reused until the cache
// changes.
type Service struct {
	cache   *topology.Cache
	builder *Builder

	group  singleflight.Group
	mu     sync.RWMutex
	last   *Graph
	builds atomic.Int64
}

func NewService(cache *topology.Cache, builder *Builder) *Service {
	if builder == nil {
		builder = NewBuilder(nil)
	}
	return &Service{cache: cache, builder: builder}
}

// Graph returns the graph for the current snapshot
func (s *Service) Graph() Graph {
	snap := s.cache.Get()

	s.mu.RLock()
	if s.last != nil && s.last.Version == snap.Version {
		g := *s.last
		s.mu.RUnlock()
		return g
	}
	s.mu.RUnlock()

	v, _, _ := s.group.Do(strconv.FormatUint(snap.Version, 10), func() (interface{}, error) {
		g := s.builder.Build(snap)
		s.builds.Add(1)

		s.mu.Lock()
		if s.last == nil || s.last.Version <= g.Version {
			s.last = &g
		}
		s.mu.Unlock()
		return g, nil
	})
	return v.(Graph)
}
