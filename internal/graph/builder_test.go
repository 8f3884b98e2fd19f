package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/vcollab/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoVMSnapshot() topology.Snapshot {
	return topology.Snapshot{
		Version: 1,
		VMs: []topology.VM{
			{MOID: "vm-1", Name: "web-1", Parent: "host-1", Cluster: "domain-c7", PowerState: topology.PowerOn,
				Resources: topology.Resources{NumCPU: 2, CPUUsageMHz: 100}, Tags: []string{"tier:web"}},
			{MOID: "vm-2", Name: "web-2", Parent: "host-1", Cluster: "domain-c7", PowerState: topology.PowerOn,
				Resources: topology.Resources{NumCPU: 2, CPUUsageMHz: 200}},
		},
		Hosts:     []topology.Host{{MOID: "host-1", Name: "esx-01.lab.local"}},
		Links:     []topology.Link{{From: "vm-1", To: "vm-2", Labels: []string{"vlan-100"}}},
		FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Source:    topology.SourceMock,
	}
}

func nodeIDs(g Graph) []string {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestBuildEmptySnapshot(t *testing.T) {
	g := NewBuilder(nil).Build(topology.Snapshot{})
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
	assert.Empty(t, g.Warnings)
}

func TestBuildGroupsVMsSharingKey(t *testing.T) {
	g := NewBuilder(nil).Build(twoVMSnapshot())

	require.Equal(t, []string{"group:host-1", "vm:vm-1", "vm:vm-2"}, nodeIDs(g))

	group := g.Nodes[0]
	assert.Equal(t, KindGroup, group.Kind)
	assert.Equal(t, "esx-01.lab.local", group.Label)
	assert.Equal(t, []string{"vm:vm-1", "vm:vm-2"}, group.Members)

	for _, n := range g.Nodes[1:] {
		assert.Equal(t, KindVM, n.Kind)
		assert.Equal(t, "group:host-1", n.Group)
	}

	require.Len(t, g.Edges, 1)
	assert.Equal(t, Edge{ID: "edge:vm:vm-1->vm:vm-2", Source: "vm:vm-1", Target: "vm:vm-2", Labels: []string{"vlan-100"}}, g.Edges[0])
	assert.Empty(t, g.Warnings)
}

func TestBuildIDsStableAcrossAttributeChanges(t *testing.T) {
	b := NewBuilder(nil)
	first := twoVMSnapshot()
	second := twoVMSnapshot()
	second.Version = 2
	second.VMs[0].Resources.CPUUsageMHz = 1900
	second.VMs[1].PowerState = topology.PowerOff
	second.VMs[1].Name = "web-2-renamed"

	g1, g2 := b.Build(first), b.Build(second)
	assert.Equal(t, nodeIDs(g1), nodeIDs(g2))
	assert.Equal(t, g1.Edges, g2.Edges)
	assert.Equal(t, int32(1900), g2.Nodes[1].Resources.CPUUsageMHz)
}

func TestBuildIsDeterministic(t *testing.T) {
	inv, err := topology.NewMockSource(3, 5).Inventory(context.Background())
	require.NoError(t, err)
	c := topology.NewCache()
	snap := c.Publish(context.Background(), inv, topology.SourceMock, time.Now())

	b := NewBuilder(nil)
	assert.Equal(t, b.Build(snap), b.Build(snap))
}

func TestBuildDropsDanglingLinks(t *testing.T) {
	snap := twoVMSnapshot()
	snap.Links = append(snap.Links,
		topology.Link{From: "vm-1", To: "vm-404"},
		topology.Link{From: "vm-2", To: "host-1", Labels: []string{"runs-on"}},
	)

	g := NewBuilder(nil).Build(snap)
	require.Len(t, g.Warnings, 1)
	assert.Equal(t, WarnDanglingLink, g.Warnings[0].Code)
	assert.Contains(t, g.Warnings[0].Message, "vm-404")

	nodes := make(map[string]bool)
	for _, n := range g.Nodes {
		nodes[n.ID] = true
	}
	require.Len(t, g.Edges, 2)
	for _, e := range g.Edges {
		assert.True(t, nodes[e.Source], e.ID)
		assert.True(t, nodes[e.Target], e.ID)
	}
}

func TestBuildUngroupedVMs(t *testing.T) {
	snap := twoVMSnapshot()
	snap.VMs[1].Parent = ""

	g := NewBuilder(nil).Build(snap)
	assert.Equal(t, []string{"group:host-1", "vm:vm-1", "vm:vm-2"}, nodeIDs(g))
	assert.Equal(t, []string{"vm:vm-1"}, g.Nodes[0].Members)
	assert.Empty(t, g.Nodes[2].Group)
}

func TestBuildKeyErrorLeavesVMUngrouped(t *testing.T) {
	key := func(vm topology.VM) (string, error) {
		if vm.MOID == "vm-2" {
			return "", errors.New("no key")
		}
		return vm.Parent, nil
	}

	g := NewBuilder(key).Build(twoVMSnapshot())
	require.Len(t, g.Warnings, 1)
	assert.Equal(t, WarnKeyError, g.Warnings[0].Code)
	assert.Empty(t, g.Nodes[2].Group)
}

func TestJSONPathKey(t *testing.T) {
	snap := twoVMSnapshot()

	byCluster, err := JSONPathKey("$.cluster")
	require.NoError(t, err)
	g := NewBuilder(byCluster).Build(snap)
	assert.Equal(t, []string{"group:domain-c7", "vm:vm-1", "vm:vm-2"}, nodeIDs(g))
	assert.Equal(t, "domain-c7", g.Nodes[0].Label)

	byTag, err := JSONPathKey("$.tags[0]")
	require.NoError(t, err)
	key, err := byTag(snap.VMs[0])
	require.NoError(t, err)
	assert.Equal(t, "tier:web", key)
	key, err = byTag(snap.VMs[1])
	require.NoError(t, err)
	assert.Empty(t, key)

	byCPU, err := JSONPathKey("$.resources.numCpu")
	require.NoError(t, err)
	key, err = byCPU(snap.VMs[0])
	require.NoError(t, err)
	assert.Equal(t, "2", key)

	_, err = JSONPathKey("parent")
	assert.Error(t, err)
}

func TestServiceReusesGraphPerVersion(t *testing.T) {
	ctx := context.Background()
	cache := topology.NewCache()
	inv, err := topology.NewMockSource(2, 3).Inventory(ctx)
	require.NoError(t, err)
	cache.Publish(ctx, inv, topology.SourceMock, time.Now())

	svc := NewService(cache, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := svc.Graph()
			assert.Equal(t, uint64(1), g.Version)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, svc.builds.Load(), int64(1))

	before := svc.builds.Load()
	svc.Graph()
	assert.Equal(t, before, svc.builds.Load())

	cache.MarkStale(ctx, errors.New("timeout"))
	g := svc.Graph()
	assert.True(t, g.Stale)
	assert.Equal(t, uint64(2), g.Version)
	assert.Equal(t, before+1, svc.builds.Load())
}
