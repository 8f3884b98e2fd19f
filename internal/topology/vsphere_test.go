package topology

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
)

func TestCollectInventoryFromSimulator(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		inv, err := collectInventory(ctx, c, c.ServiceContent.RootFolder)
		require.NoError(t, err)

		require.NotEmpty(t, inv.Hosts)
		require.NotEmpty(t, inv.VMs)
		assert.Empty(t, inv.Failures)

		hosts := make(map[string]bool)
		for _, h := range inv.Hosts {
			hosts[h.MOID] = true
			assert.Equal(t, string(types.HostSystemConnectionStateConnected), h.ConnectionState)
		}
		vms := make(map[string]bool)
		for _, vm := range inv.VMs {
			vms[vm.MOID] = true
			assert.NotEmpty(t, vm.Name)
			assert.True(t, hosts[vm.Parent], "vm %s parent %s", vm.MOID, vm.Parent)
		}
		for _, l := range inv.Links {
			assert.True(t, vms[l.From])
			assert.True(t, vms[l.To])
			assert.NotEmpty(t, l.Labels)
		}
	})
}

func TestParseRoot(t *testing.T) {
	assert.Equal(t, types.ManagedObjectReference{}, parseRoot(""))
	assert.Equal(t, types.ManagedObjectReference{Type: "Folder", Value: "group-d1"}, parseRoot("group-d1"))
	assert.Equal(t, types.ManagedObjectReference{Type: "ClusterComputeResource", Value: "domain-c7"}, parseRoot("ClusterComputeResource:domain-c7"))
}

func TestNewVSphereSource(t *testing.T) {
	_, err := NewVSphereSource("", "u", "p", "", false)
	require.Error(t, err)

	src, err := NewVSphereSource("vcenter.lab.local", "admin", "secret", "", true)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, src.Kind())
	assert.Equal(t, "vcenter.lab.local", src.url.Host)
	assert.Equal(t, "/sdk", src.url.Path)
}

func TestClassify(t *testing.T) {
	f := &soap.Fault{Code: "ServerFaultCode", String: "Cannot complete login due to an incorrect user name or password."}
	f.Detail.Fault = types.InvalidLogin{}
	loginErr := fmt.Errorf("login failed: %w", soap.WrapSoapFault(f))

	assert.True(t, errors.Is(classify(loginErr), ErrFetchAuth))
	assert.True(t, errors.Is(classify(context.DeadlineExceeded), ErrFetchTimeout))
	assert.Equal(t, KindSource, Kind(classify(errors.New("connection refused"))))

	partial := &FetchError{Kind: KindPartial}
	assert.Same(t, partial, classify(partial))
}
