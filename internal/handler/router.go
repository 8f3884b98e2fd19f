package handler

import (
	"net/http"

	"github.com/dandantas/vcollab/internal/metrics"
	"github.com/dandantas/vcollab/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	lockHandler     *LockHandler
	topologyHandler *TopologyHandler
	healthHandler   *HealthHandler
	corsConfig      middleware.CORSConfig
}

// NewRouter creates a new router
func NewRouter(
	lockHandler *LockHandler,
	topologyHandler *TopologyHandler,
	healthHandler *HealthHandler,
	corsConfig middleware.CORSConfig,
) *Router {
	return &Router{
		lockHandler:     lockHandler,
		topologyHandler: topologyHandler,
		healthHandler:   healthHandler,
		corsConfig:      corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("/health", rt.healthHandler.Health)
	mux.HandleFunc("/ready", rt.healthHandler.Ready)
	mux.Handle("/metrics", metrics.Handler())

	// Locks
	mux.HandleFunc("/api/v1/locks", rt.lockHandler.Get)
	mux.HandleFunc("/api/v1/locks/acquire", rt.lockHandler.Acquire)
	mux.HandleFunc("/api/v1/locks/extend", rt.lockHandler.Extend)
	mux.HandleFunc("/api/v1/locks/release", rt.lockHandler.Release)

	// Topology
	mux.HandleFunc("/api/v1/topology/snapshot", rt.topologyHandler.Snapshot)
	mux.HandleFunc("/api/v1/topology/graph", rt.topologyHandler.Graph)
	mux.HandleFunc("/api/v1/topology/refresh", rt.topologyHandler.Refresh)

	// Apply middleware (CORS first to handle preflight requests)
	handler := middleware.CORS(rt.corsConfig)(mux)
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(handler)
	handler = middleware.Identity(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}
