package notify

import (
	"fmt"
	"time"

	"github.com/dandantas/vcollab/internal/topology"
	"github.com/google/uuid"
)

// Event names the condition a notification reports
type Event string

const (
	EventFetchFailing   Event = "topology_fetch_failing"
	EventFetchRecovered Event = "topology_fetch_recovered"
)

// Payload is the JSON body posted to the webhook
type Payload struct {
	ID         string                 `json:"id"`
	Event      Event                  `json:"event"`
	Text       string                 `json:"text"`
	Deployment string                 `json:"deployment,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details"`
}

func failingPayload(deployment string, snap topology.Snapshot, cause error, now time.Time) Payload {
	reason := snap.LastError
	if cause != nil {
		reason = cause.Error()
	}

	text := fmt.Sprintf("🚨 Topology fetch failing on %s: %d consecutive failures (%s)",
		deploymentLabel(deployment), snap.ConsecutiveFailures, reason)

	details := map[string]interface{}{
		"kind":                 string(topology.Kind(cause)),
		"consecutive_failures": snap.ConsecutiveFailures,
		"last_attempt":         snap.LastAttempt,
		"error":                reason,
	}
	if snap.Ready() {
		details["serving_snapshot_from"] = snap.FetchedAt
		details["snapshot_age_seconds"] = int64(snap.Age(now).Seconds())
	}

	return Payload{
		ID:         uuid.NewString(),
		Event:      EventFetchFailing,
		Text:       text,
		Deployment: deployment,
		Timestamp:  now,
		Details:    details,
	}
}

func recoveredPayload(deployment string, snap topology.Snapshot, now time.Time) Payload {
	return Payload{
		ID:         uuid.NewString(),
		Event:      EventFetchRecovered,
		Text:       fmt.Sprintf("✅ Topology fetch recovered on %s: %d VMs", deploymentLabel(deployment), len(snap.VMs)),
		Deployment: deployment,
		Timestamp:  now,
		Details: map[string]interface{}{
			"version":    snap.Version,
			"vms":        len(snap.VMs),
			"fetched_at": snap.FetchedAt,
			"source":     string(snap.Source),
		},
	}
}

func deploymentLabel(deployment string) string {
	if deployment == "" {
		return "vcollab"
	}
	return deployment
}
