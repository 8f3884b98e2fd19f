package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/dandantas/vcollab/internal/topology"
)

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	db        Pinger
	kv        Pinger
	cache     *topology.Cache
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. kv may be nil when no external cache
// is configured.
func NewHealthHandler(db Pinger, kv Pinger, cache *topology.Cache, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		kv:        kv,
		cache:     cache,
		startTime: time.Now(),
		version:   version,
	}
}

// TopologyHealth summarises the served snapshot
type TopologyHealth struct {
	Ready               bool       `json:"ready"`
	Stale               bool       `json:"stale"`
	Version             uint64     `json:"version"`
	FetchedAt           *time.Time `json:"fetched_at,omitempty"`
	AgeSeconds          int64      `json:"age_seconds"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	Timestamp     string         `json:"timestamp"`
	MongoDB       string         `json:"mongodb"`
	Redis         string         `json:"redis,omitempty"`
	Topology      TopologyHealth `json:"topology"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready   bool   `json:"ready"`
	MongoDB string `json:"mongodb"`
}

// Health returns the service health status. A stale topology or an unreachable
// external cache degrades the status but never fails the check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	status := "healthy"

	mongoStatus := pingStatus(r.Context(), h.db)
	if mongoStatus != "connected" {
		status = "unhealthy"
	}

	redisStatus := ""
	if h.kv != nil {
		redisStatus = pingStatus(r.Context(), h.kv)
		if redisStatus != "connected" && status == "healthy" {
			status = "degraded"
		}
	}

	snap := h.cache.Get()
	topo := TopologyHealth{
		Ready:               snap.Ready(),
		Stale:               snap.Stale,
		Version:             snap.Version,
		AgeSeconds:          int64(snap.Age(now).Seconds()),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastError:           snap.LastError,
	}
	if snap.Ready() {
		fetchedAt := snap.FetchedAt
		topo.FetchedAt = &fetchedAt
	}
	if snap.Stale && status == "healthy" {
		status = "degraded"
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, HealthResponse{
		Status:        status,
		Version:       h.version,
		Timestamp:     now.Format(time.RFC3339),
		MongoDB:       mongoStatus,
		Redis:         redisStatus,
		Topology:      topo,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready returns the service readiness status. Lock operations need the document store,
// so readiness follows MongoDB only.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	mongoStatus := pingStatus(r.Context(), h.db)
	ready := mongoStatus == "connected"

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, ReadyResponse{
		Ready:   ready,
		MongoDB: mongoStatus,
	})
}

func pingStatus(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disconnected"
	}
	if err := p.Ping(ctx); err != nil {
		return "disconnected"
	}
	return "connected"
}
