package topology

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
)

// Normalize turns raw inventory into the canonical form published in snapshots:
// VMs sorted by moid with duplicates removed, hosts sorted, self links dropped,
// links undirected and merged (labels unioned), all in a stable order.
func Normalize(inv RawInventory) RawInventory {
	out := RawInventory{
		VMs:      make([]VM, 0, len(inv.VMs)),
		Hosts:    make([]Host, 0, len(inv.Hosts)),
		Links:    make([]Link, 0, len(inv.Links)),
		Failures: append([]HostFailure(nil), inv.Failures...),
	}

	seen := make(map[string]bool, len(inv.VMs))
	for _, vm := range inv.VMs {
		if vm.MOID == "" || seen[vm.MOID] {
			slog.Debug("Dropping VM without unique moid", "moid", vm.MOID, "name", vm.Name)
			continue
		}
		seen[vm.MOID] = true
		vm.Networks = sortedUnique(vm.Networks)
		vm.Tags = sortedUnique(vm.Tags)
		out.VMs = append(out.VMs, vm)
	}
	sort.Slice(out.VMs, func(i, j int) bool { return out.VMs[i].MOID < out.VMs[j].MOID })

	hostSeen := make(map[string]bool, len(inv.Hosts))
	for _, h := range inv.Hosts {
		if h.MOID == "" || hostSeen[h.MOID] {
			continue
		}
		hostSeen[h.MOID] = true
		out.Hosts = append(out.Hosts, h)
	}
	sort.Slice(out.Hosts, func(i, j int) bool { return out.Hosts[i].MOID < out.Hosts[j].MOID })

	merged := make(map[[2]string][]string)
	for _, l := range inv.Links {
		if l.From == "" || l.To == "" || l.From == l.To {
			continue
		}
		key := [2]string{l.From, l.To}
		if l.To < l.From {
			key = [2]string{l.To, l.From}
		}
		merged[key] = append(merged[key], l.Labels...)
	}
	for key, labels := range merged {
		out.Links = append(out.Links, Link{From: key[0], To: key[1], Labels: sortedUnique(labels)})
	}
	sort.Slice(out.Links, func(i, j int) bool {
		if out.Links[i].From != out.Links[j].From {
			return out.Links[i].From < out.Links[j].From
		}
		return out.Links[i].To < out.Links[j].To
	})

	sort.Slice(out.Failures, func(i, j int) bool { return out.Failures[i].Host < out.Failures[j].Host })
	return out
}

// LinkSharedNetworks connects VMs attached to the same network. Members of a network
// are chained in moid order rather than fully meshed, which keeps the edge count linear.
func LinkSharedNetworks(vms []VM) []Link {
	members := make(map[string][]string)
	for _, vm := range vms {
		for _, n := range sortedUnique(vm.Networks) {
			members[n] = append(members[n], vm.MOID)
		}
	}

	networks := make([]string, 0, len(members))
	for n := range members {
		networks = append(networks, n)
	}
	sort.Strings(networks)

	var links []Link
	for _, n := range networks {
		ids := members[n]
		sort.Strings(ids)
		for i := 1; i < len(ids); i++ {
			links = append(links, Link{From: ids[i-1], To: ids[i], Labels: []string{n}})
		}
	}
	return links
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
