package topology

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var mockClusters = []string{"domain-c7", "domain-c9"}

// MockSource generates a deterministic inventory for offline development and tests.
// Every call returns the same topology shape; only usage figures drift with the call
// count, which mimics live attribute updates.
type MockSource struct {
	hosts      int
	vmsPerHost int

	mu          sync.Mutex
	calls       int
	delay       time.Duration
	failure     error
	unreachable map[string]bool
}

// NewMockSource creates a generator with the given shape
func NewMockSource(hosts, vmsPerHost int) *MockSource {
	if hosts <= 0 {
		hosts = 3
	}
	if vmsPerHost < 0 {
		vmsPerHost = 0
	}
	return &MockSource{
		hosts:       hosts,
		vmsPerHost:  vmsPerHost,
		unreachable: make(map[string]bool),
	}
}

func (m *MockSource) Kind() SourceKind { return SourceMock }

// SetDelay makes every call take at least d
func (m *MockSource) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetFailure makes every call fail with err until cleared with nil
func (m *MockSource) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// SetUnreachable marks hosts (by moid) as disconnected
func (m *MockSource) SetUnreachable(hosts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = make(map[string]bool, len(hosts))
	for _, h := range hosts {
		m.unreachable[h] = true
	}
}

// Calls is the number of inventory calls served
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockSource) Inventory(ctx context.Context) (RawInventory, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	delay := m.delay
	failure := m.failure
	unreachable := make(map[string]bool, len(m.unreachable))
	for h := range m.unreachable {
		unreachable[h] = true
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return RawInventory{}, ctx.Err()
		}
	}
	if failure != nil {
		return RawInventory{}, failure
	}

	var inv RawInventory
	for h := 1; h <= m.hosts; h++ {
		host := Host{
			MOID:            fmt.Sprintf("host-%d", h),
			Name:            fmt.Sprintf("esx-%02d.lab.local", h),
			Cluster:         mockClusters[(h-1)%len(mockClusters)],
			ConnectionState: "connected",
		}
		if unreachable[host.MOID] {
			host.ConnectionState = "notResponding"
			inv.Hosts = append(inv.Hosts, host)
			inv.Failures = append(inv.Failures, HostFailure{Host: host.MOID, Name: host.Name, Reason: "host is notResponding"})
			continue
		}
		inv.Hosts = append(inv.Hosts, host)

		for i := 1; i <= m.vmsPerHost; i++ {
			idx := (h-1)*m.vmsPerHost + i
			inv.VMs = append(inv.VMs, mockVM(host, idx, call))
		}
	}
	inv.Links = LinkSharedNetworks(inv.VMs)
	return inv, nil
}

func mockVM(host Host, idx, call int) VM {
	power := PowerOn
	switch idx % 7 {
	case 0:
		power = PowerOff
	case 5:
		power = PowerSuspended
	}

	vm := VM{
		MOID:       fmt.Sprintf("vm-%d", 1000+idx),
		Name:       fmt.Sprintf("app-%03d", idx),
		PowerState: power,
		Resources: Resources{
			NumCPU:   int32(1 << (idx % 3)),
			MemoryMB: int32(1024 * (1 + idx%4)),
			GuestOS:  []string{"Ubuntu Linux (64-bit)", "Microsoft Windows Server 2022", "Red Hat Enterprise Linux 9"}[idx%3],
		},
		Parent:   host.MOID,
		Host:     host.MOID,
		Cluster:  host.Cluster,
		Networks: []string{fmt.Sprintf("vlan-%d", 100+idx%3)},
		Tags:     []string{"env:lab"},
	}
	if idx%4 == 0 {
		vm.Networks = append(vm.Networks, "mgmt")
	}
	if power == PowerOn {
		vm.Resources.CPUUsageMHz = int32((call*37 + idx*13) % 2400)
		vm.Resources.MemoryUsageMB = int32((call*53 + idx*29) % int(vm.Resources.MemoryMB))
		vm.Resources.IPAddress = fmt.Sprintf("10.0.%d.%d", idx/250, 10+idx%240)
	}
	return vm
}
