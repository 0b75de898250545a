package graph

import (
	"cmp"
	"slices"

	"github.com/wafkaw/book-digger/pkg/common"
)

// FilterOptions are the quality thresholds applied before rendering. Zero
// values disable the corresponding rule.
type FilterOptions struct {
	MinImportance   float64 `json:"min_importance"`
	MinOccurrences  int     `json:"min_occurrences"`
	MinEdgeWeight   float64 `json:"min_edge_weight"`
	MaxNodesPerKind int     `json:"max_nodes_per_kind"`
}

// rank orders nodes by importance, then occurrences, then ID.
func rank(a, b Node) int {
	if c := cmp.Compare(b.Importance, a.Importance); c != 0 {
		return c
	}
	if c := cmp.Compare(b.OccurrenceCount, a.OccurrenceCount); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Filter drops weak nodes and edges from g and returns a new graph. Edges
// whose endpoints did not survive are always dropped.
func Filter(g *KnowledgeGraph, opts FilterOptions) *KnowledgeGraph {
	byKind := make(map[common.EntityKind][]Node)
	for _, n := range g.Nodes {
		if n.Importance < opts.MinImportance || n.OccurrenceCount < opts.MinOccurrences {
			continue
		}
		byKind[n.Kind] = append(byKind[n.Kind], n)
	}

	kept := make(map[string]struct{})
	nodes := make([]Node, 0, len(g.Nodes))
	for _, kind := range common.Kinds {
		list := byKind[kind]
		if opts.MaxNodesPerKind > 0 && len(list) > opts.MaxNodesPerKind {
			slices.SortFunc(list, rank)
			list = list[:opts.MaxNodesPerKind]
		}
		for _, n := range list {
			n.Sources = slices.Clone(n.Sources)
			kept[n.ID] = struct{}{}
			nodes = append(nodes, n)
		}
	}

	edges := make([]Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		if e.Weight < opts.MinEdgeWeight {
			continue
		}
		_, src := kept[e.SourceID]
		_, dst := kept[e.TargetID]
		if src && dst {
			edges = append(edges, e)
		}
	}

	return newKnowledgeGraph(g.BookID, nodes, edges)
}
