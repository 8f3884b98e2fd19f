package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vcollab"

var (
	Registry = prometheus.NewRegistry()

	factory = promauto.With(Registry)

	// LockOperations counts lock operations by operation and result
	LockOperations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lock",
		Name:      "operations_total",
		Help:      "Lock operations by operation (acquire, extend, release) and result",
	}, []string{"op", "result"})

	// ReaperCleared counts expired locks removed by the reaper
	ReaperCleared = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "cleared_total",
		Help:      "Expired locks cleared by reaper sweeps",
	})

	// ReaperFailures counts per-record sweep failures
	ReaperFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "failures_total",
		Help:      "Records the reaper failed to clear",
	})

	// ReaperSweepDuration tracks sweep latency
	ReaperSweepDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a full reaper sweep",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// FetchResults counts topology fetches by outcome
	FetchResults = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "fetch_total",
		Help:      "Topology fetch attempts by outcome (success, partial, timeout, auth, source, skipped)",
	}, []string{"outcome"})

	// FetchDuration tracks fetch latency including timeouts
	FetchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of topology fetch attempts",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	// SnapshotStale is 1 while the cache serves a stale snapshot
	SnapshotStale = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "snapshot_stale",
		Help:      "1 when the served topology snapshot is stale",
	})

	// SnapshotFetchedAt is the unix time of the served snapshot
	SnapshotFetchedAt = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "snapshot_fetched_timestamp_seconds",
		Help:      "Fetch time of the served topology snapshot",
	})

	// ConsecutiveFetchFailures mirrors the cache failure streak
	ConsecutiveFetchFailures = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "topology",
		Name:      "consecutive_fetch_failures",
		Help:      "Fetch failures since the last successful publish",
	})

	// GraphWarnings counts links dropped while building graphs
	GraphWarnings = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "warnings_total",
		Help:      "Graph build warnings by code",
	}, []string{"code"})

	// NotificationsSent counts outbound failure notifications by event and result
	NotificationsSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Webhook notifications by event and result",
	}, []string{"event", "result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
