package graph

import (
	"time"

	"github.com/dandantas/vcollab/internal/topology"
)

// NodeKind tags graph nodes
type NodeKind string

const (
	KindVM    NodeKind = "vm"
	KindGroup NodeKind = "vmGroup"
)

// Warning codes
const (
	WarnDanglingLink = "dangling_link"
	WarnKeyError     = "group_key_error"
)

// Node is a VM or a synthesized VM group. IDs are derived from platform ids only, so
// attribute changes never change them.
type Node struct {
	ID         string              `json:"id"`
	Kind       NodeKind            `json:"kind"`
	Label      string              `json:"label"`
	PlatformID string              `json:"platformId,omitempty"`
	Group      string              `json:"group,omitempty"`
	Members    []string            `json:"members,omitempty"`
	PowerState string              `json:"powerState,omitempty"`
	Resources  *topology.Resources `json:"resources,omitempty"`
	Tags       []string            `json:"tags,omitempty"`
}

// Edge connects two nodes of the same graph
type Edge struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Labels []string `json:"labels,omitempty"`
}

// Warning describes input the builder skipped
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Graph is the renderable form of one snapshot
type Graph struct {
	Version   uint64              `json:"version"`
	Nodes     []Node              `json:"nodes"`
	Edges     []Edge              `json:"edges"`
	Warnings  []Warning           `json:"warnings,omitempty"`
	Source    topology.SourceKind `json:"source,omitempty"`
	FetchedAt time.Time           `json:"fetchedAt"`
	Stale     bool                `json:"stale"`
}

func VMNodeID(moid string) string { return "vm:" + moid }

func GroupNodeID(key string) string { return "group:" + key }

func EdgeID(source, target string) string { return "edge:" + source + "->" + target }
