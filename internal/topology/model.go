package topology

import (
	"time"
)

// SourceKind tells which data source produced a snapshot
type SourceKind string

const (
	SourceLive SourceKind = "live"
	SourceMock SourceKind = "mock"
)

// Power states as reported by the platform
const (
	PowerOn        = "poweredOn"
	PowerOff       = "poweredOff"
	PowerSuspended = "suspended"
)

// Resources holds the non-identifying attributes of a VM.
type Resources struct {
	NumCPU        int32  `json:"numCpu"`
	MemoryMB      int32  `json:"memoryMB"`
	CPUUsageMHz   int32  `json:"cpuUsageMHz"`
	MemoryUsageMB int32  `json:"memoryUsageMB"`
	GuestOS       string `json:"guestOS,omitempty"`
	IPAddress     string `json:"ipAddress,omitempty"`
}

// VM is one virtual machine of the inventory.
type VM struct {
	MOID       string    `json:"moid"`
	Name       string    `json:"name"`
	PowerState string    `json:"powerState"`
	Resources  Resources `json:"resources"`
	Parent     string    `json:"parent,omitempty"` // grouping reference, the host moid
	Host       string    `json:"host,omitempty"`
	Cluster    string    `json:"cluster,omitempty"`
	Networks   []string  `json:"networks,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
}

// Host is a hypervisor host; hosts label the synthesized VM groups.
type Host struct {
	MOID            string `json:"moid"`
	Name            string `json:"name"`
	Cluster         string `json:"cluster,omitempty"`
	ConnectionState string `json:"connectionState"`
}

// Link is a relationship between two platform ids.
type Link struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Labels []string `json:"labels,omitempty"`
}

// HostFailure records a host whose inventory could not be retrieved.
type HostFailure struct {
	Host   string `json:"host"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// RawInventory is what a Source returns for one fetch.
type RawInventory struct {
	VMs      []VM          `json:"vms"`
	Hosts    []Host        `json:"hosts"`
	Links    []Link        `json:"links"`
	Failures []HostFailure `json:"failures,omitempty"`
}

// Snapshot is the published topology. Snapshots are never mutated after publication;
// a change always produces a new Snapshot value.
type Snapshot struct {
	Version             uint64        `json:"version"`
	VMs                 []VM          `json:"vms"`
	Hosts               []Host        `json:"hosts"`
	Links               []Link        `json:"links"`
	Failures            []HostFailure `json:"failures,omitempty"`
	FetchedAt           time.Time     `json:"fetchedAt"`
	Source              SourceKind    `json:"source"`
	Stale               bool          `json:"stale"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastAttempt         time.Time     `json:"lastAttempt"`
	LastError           string        `json:"lastError,omitempty"`
}

// Ready reports whether a snapshot has ever been published
func (s Snapshot) Ready() bool {
	return !s.FetchedAt.IsZero()
}

// Age is the time since the snapshot was fetched
func (s Snapshot) Age(now time.Time) time.Duration {
	if !s.Ready() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}
