package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
)

var (
	hostProperties = []string{"name", "parent", "runtime.connectionState", "vm"}
	vmProperties   = []string{"name", "summary", "network", "tag"}
)

// VSphereSource reads hosts and VMs from a vCenter or ESXi endpoint. It logs in for
// every fetch so an expired session never outlives one cycle.
type VSphereSource struct {
	url      *url.URL
	insecure bool
	root     types.ManagedObjectReference
}

// NewVSphereSource configures a live source. root may be "Type:moid", a bare folder moid,
// or empty for the inventory root folder.
func NewVSphereSource(host, username, password, root string, insecure bool) (*VSphereSource, error) {
	if host == "" {
		return nil, errors.New("vSphere host is required")
	}

	u, err := soap.ParseURL(host)
	if err != nil {
		return nil, fmt.Errorf("invalid vSphere host: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("invalid vSphere host %q", host)
	}
	u.User = url.UserPassword(username, password)

	return &VSphereSource{
		url:      u,
		insecure: insecure,
		root:     parseRoot(root),
	}, nil
}

func parseRoot(root string) types.ManagedObjectReference {
	root = strings.TrimSpace(root)
	if root == "" {
		return types.ManagedObjectReference{}
	}
	if typ, value, ok := strings.Cut(root, ":"); ok && typ != "" && value != "" {
		return types.ManagedObjectReference{Type: typ, Value: value}
	}
	return types.ManagedObjectReference{Type: "Folder", Value: root}
}

func (s *VSphereSource) Kind() SourceKind { return SourceLive }

func (s *VSphereSource) Inventory(ctx context.Context) (RawInventory, error) {
	c, err := govmomi.NewClient(ctx, s.url, s.insecure)
	if err != nil {
		return RawInventory{}, classify(fmt.Errorf("login to %s failed: %w", s.url.Host, err))
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Logout(logoutCtx); err != nil {
			slog.Debug("vSphere logout failed", "host", s.url.Host, "error", err)
		}
	}()

	root := s.root
	if root.Value == "" {
		root = c.ServiceContent.RootFolder
	}
	return collectInventory(ctx, c.Client, root)
}

// collectInventory walks the hosts below root. Hosts that are not connected, or whose
// VMs cannot be read, become per-host failures; the rest of the inventory is kept.
func collectInventory(ctx context.Context, c *vim25.Client, root types.ManagedObjectReference) (RawInventory, error) {
	m := view.NewManager(c)
	v, err := m.CreateContainerView(ctx, root, []string{"HostSystem"}, true)
	if err != nil {
		return RawInventory{}, classify(fmt.Errorf("failed to create host view: %w", err))
	}
	defer func() {
		if err := v.Destroy(context.Background()); err != nil {
			slog.Debug("Failed to destroy container view", "error", err)
		}
	}()

	var hosts []mo.HostSystem
	if err := v.Retrieve(ctx, []string{"HostSystem"}, hostProperties, &hosts); err != nil {
		return RawInventory{}, classify(fmt.Errorf("failed to retrieve hosts: %w", err))
	}

	pc := property.DefaultCollector(c)
	var inv RawInventory

	for _, h := range hosts {
		host := Host{
			MOID:            h.Self.Value,
			Name:            h.Name,
			ConnectionState: string(h.Runtime.ConnectionState),
		}
		if h.Parent != nil && h.Parent.Type == "ClusterComputeResource" {
			host.Cluster = h.Parent.Value
		}
		inv.Hosts = append(inv.Hosts, host)

		if h.Runtime.ConnectionState != types.HostSystemConnectionStateConnected {
			inv.Failures = append(inv.Failures, HostFailure{
				Host:   host.MOID,
				Name:   host.Name,
				Reason: fmt.Sprintf("host is %s", h.Runtime.ConnectionState),
			})
			continue
		}
		if len(h.Vm) == 0 {
			continue
		}

		var vms []mo.VirtualMachine
		if err := pc.Retrieve(ctx, h.Vm, vmProperties, &vms); err != nil {
			if ctx.Err() != nil {
				return RawInventory{}, classify(ctx.Err())
			}
			inv.Failures = append(inv.Failures, HostFailure{Host: host.MOID, Name: host.Name, Reason: err.Error()})
			continue
		}
		for _, vm := range vms {
			inv.VMs = append(inv.VMs, toVM(vm, host))
		}
	}

	resolveNetworkNames(ctx, pc, inv.VMs)
	inv.Links = LinkSharedNetworks(inv.VMs)

	slog.Debug("Collected vSphere inventory",
		"hosts", len(inv.Hosts),
		"vms", len(inv.VMs),
		"failed_hosts", len(inv.Failures),
	)
	return inv, nil
}

func toVM(m mo.VirtualMachine, host Host) VM {
	vm := VM{
		MOID:       m.Self.Value,
		Name:       m.Name,
		PowerState: string(m.Summary.Runtime.PowerState),
		Resources: Resources{
			NumCPU:        m.Summary.Config.NumCpu,
			MemoryMB:      m.Summary.Config.MemorySizeMB,
			CPUUsageMHz:   m.Summary.QuickStats.OverallCpuUsage,
			MemoryUsageMB: m.Summary.QuickStats.GuestMemoryUsage,
			GuestOS:       m.Summary.Config.GuestFullName,
		},
		Parent:  host.MOID,
		Host:    host.MOID,
		Cluster: host.Cluster,
	}
	if vm.Name == "" {
		vm.Name = m.Summary.Config.Name
	}
	if m.Summary.Guest != nil {
		vm.Resources.IPAddress = m.Summary.Guest.IpAddress
	}
	for _, n := range m.Network {
		vm.Networks = append(vm.Networks, n.Value)
	}
	for _, t := range m.Tag {
		vm.Tags = append(vm.Tags, t.Key)
	}
	return vm
}

// resolveNetworkNames replaces network moids with their names. On failure the moids are
// kept, they still identify the shared network.
func resolveNetworkNames(ctx context.Context, pc *property.Collector, vms []VM) {
	seen := make(map[string]bool)
	var refs []types.ManagedObjectReference
	for _, vm := range vms {
		for _, n := range vm.Networks {
			if !seen[n] {
				seen[n] = true
				refs = append(refs, types.ManagedObjectReference{Type: "Network", Value: n})
			}
		}
	}
	if len(refs) == 0 {
		return
	}

	var nets []mo.Network
	if err := pc.Retrieve(ctx, refs, []string{"name"}, &nets); err != nil {
		slog.Debug("Failed to resolve network names", "error", err)
		return
	}
	names := make(map[string]string, len(nets))
	for _, n := range nets {
		names[n.Self.Value] = n.Name
	}
	for i := range vms {
		for j, n := range vms[i].Networks {
			if name, ok := names[n]; ok && name != "" {
				vms[i].Networks[j] = name
			}
		}
	}
}

// classify maps platform errors onto fetch error kinds
func classify(err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	if isAuthFault(err) {
		return &FetchError{Kind: KindAuth, Err: err}
	}
	return &FetchError{Kind: KindSource, Err: err}
}

func isAuthFault(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if !soap.IsSoapFault(e) {
			continue
		}
		switch soap.ToSoapFault(e).VimFault().(type) {
		case types.InvalidLogin, *types.InvalidLogin,
			types.NotAuthenticated, *types.NotAuthenticated,
			types.NoPermission, *types.NoPermission:
			return true
		}
	}
	return false
}
