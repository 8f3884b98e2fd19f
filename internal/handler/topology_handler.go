package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dandantas/vcollab/internal/graph"
	"github.com/dandantas/vcollab/internal/topology"
)

// Refresher triggers out-of-band topology fetches
type Refresher interface {
	Refresh(ctx context.Context) error
	InFlight() bool
}

// TopologyHandler serves the cached topology and its graph
type TopologyHandler struct {
	cache   *topology.Cache
	graphs  *graph.Service
	fetcher Refresher
}

// NewTopologyHandler creates the handler. fetcher may be nil when fetching is disabled.
func NewTopologyHandler(cache *topology.Cache, graphs *graph.Service, fetcher Refresher) *TopologyHandler {
	return &TopologyHandler{cache: cache, graphs: graphs, fetcher: fetcher}
}

// RefreshResponse reports the outcome of a refresh request
type RefreshResponse struct {
	Status  string `json:"status"`
	Version uint64 `json:"version"`
}

// Snapshot handles GET /api/v1/topology/snapshot
func (h *TopologyHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap := h.cache.Get()
	setTopologyHeaders(w, snap.Version, snap.Stale)
	writeJSON(w, http.StatusOK, snap)
}

// Graph handles GET /api/v1/topology/graph
func (h *TopologyHandler) Graph(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	g := h.graphs.Graph()
	setTopologyHeaders(w, g.Version, g.Stale)
	writeJSON(w, http.StatusOK, g)
}

// Refresh handles POST /api/v1/topology/refresh
func (h *TopologyHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if h.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "Topology fetching is disabled")
		return
	}

	err := h.fetcher.Refresh(r.Context())
	switch {
	case errors.Is(err, topology.ErrFetchInProgress):
		writeJSON(w, http.StatusConflict, RefreshResponse{Status: "in_progress", Version: h.cache.Version()})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, RefreshResponse{Status: "started", Version: h.cache.Version()})
	}
}

func setTopologyHeaders(w http.ResponseWriter, version uint64, stale bool) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Topology-Version", strconv.FormatUint(version, 10))
	if stale {
		w.Header().Set("X-Topology-Stale", "true")
	}
}
