package graph

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dandantas/vcollab/internal/metrics"
	"github.com/dandantas/vcollab/internal/topology"
)

// Builder turns snapshots into graphs. Build is a pure function of its input.
type Builder struct {
	key KeyFunc
}

// NewBuilder creates a builder grouping by key, ParentKey when nil
func NewBuilder(key KeyFunc) *Builder {
	if key == nil {
		key = ParentKey
	}
	return &Builder{key: key}
}

// Build renders snap. VMs sharing a group key get one synthesized group node, VMs
// without a key are attached directly. Links whose endpoints are not in the graph are
// dropped with a warning.
func (b *Builder) Build(snap topology.Snapshot) Graph {
	g := Graph{
		Version:   snap.Version,
		Nodes:     make([]Node, 0, len(snap.VMs)),
		Edges:     make([]Edge, 0, len(snap.Links)),
		Source:    snap.Source,
		FetchedAt: snap.FetchedAt,
		Stale:     snap.Stale,
	}

	hostNames := make(map[string]string, len(snap.Hosts))
	for _, h := range snap.Hosts {
		hostNames[h.MOID] = h.Name
	}

	// platform id -> node id, for edge endpoint resolution
	resolve := make(map[string]string, len(snap.VMs))
	groups := make(map[string][]string)

	for _, vm := range snap.VMs {
		key, err := b.key(vm)
		if err != nil {
			g.Warnings = append(g.Warnings, Warning{
				Code:    WarnKeyError,
				Message: fmt.Sprintf("vm %s: %v", vm.MOID, err),
			})
			key = ""
		}

		resources := vm.Resources
		node := Node{
			ID:         VMNodeID(vm.MOID),
			Kind:       KindVM,
			Label:      vm.Name,
			PlatformID: vm.MOID,
			PowerState: vm.PowerState,
			Resources:  &resources,
			Tags:       vm.Tags,
		}
		if node.Label == "" {
			node.Label = vm.MOID
		}
		if key != "" {
			node.Group = GroupNodeID(key)
			groups[key] = append(groups[key], node.ID)
		}
		g.Nodes = append(g.Nodes, node)
		resolve[vm.MOID] = node.ID
	}

	for key, members := range groups {
		sort.Strings(members)
		label := key
		if name := hostNames[key]; name != "" {
			label = name
		}
		id := GroupNodeID(key)
		g.Nodes = append(g.Nodes, Node{
			ID:         id,
			Kind:       KindGroup,
			Label:      label,
			PlatformID: key,
			Members:    members,
		})
		if _, ok := resolve[key]; !ok {
			resolve[key] = id
		}
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })

	seen := make(map[string]int, len(snap.Links))
	for _, l := range snap.Links {
		source, okFrom := resolve[l.From]
		target, okTo := resolve[l.To]
		if !okFrom || !okTo {
			g.Warnings = append(g.Warnings, Warning{
				Code:    WarnDanglingLink,
				Message: fmt.Sprintf("link %s -> %s references an unknown node", l.From, l.To),
			})
			continue
		}
		if source == target {
			continue
		}

		id := EdgeID(source, target)
		if i, ok := seen[id]; ok {
			g.Edges[i].Labels = mergeLabels(g.Edges[i].Labels, l.Labels)
			continue
		}
		seen[id] = len(g.Edges)
		g.Edges = append(g.Edges, Edge{
			ID:     id,
			Source: source,
			Target: target,
			Labels: append([]string(nil), l.Labels...),
		})
	}
	sort.Slice(g.Edges, func(i, j int) bool { return g.Edges[i].ID < g.Edges[j].ID })

	for _, w := range g.Warnings {
		metrics.GraphWarnings.WithLabelValues(w.Code).Inc()
	}
	if len(g.Warnings) > 0 {
		slog.Warn("Graph built with warnings",
			"version", snap.Version,
			"warnings", len(g.Warnings),
		)
	}
	return g
}

func mergeLabels(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
