// Package graph merges per-highlight extraction results into a single
// deduplicated knowledge graph with weighted co-occurrence edges.
package graph

import (
	"cmp"
	"slices"

	"github.com/wafkaw/book-digger/pkg/common"
)

// NodeID returns the identity of the node for an entity of kind with the
// given normalized name.
func NodeID(kind common.EntityKind, normalizedName string) string {
	return string(kind) + ":" + normalizedName
}

// Node is one merged entity.
type Node struct {
	ID              string                `json:"id"`
	Label           string                `json:"label"`
	Kind            common.EntityKind     `json:"kind"`
	Importance      float64               `json:"importance"`
	OccurrenceCount int                   `json:"occurrence_count"`
	Sources         []common.HighlightRef `json:"sources,omitempty"`
}

// Edge is an undirected co-occurrence relation; SourceID < TargetID.
type Edge struct {
	SourceID          string  `json:"source_id"`
	TargetID          string  `json:"target_id"`
	Weight            float64 `json:"weight"`
	CooccurrenceCount int     `json:"cooccurrence_count"`
}

// Other returns the endpoint of e that is not id.
func (e Edge) Other(id string) string {
	if e.SourceID == id {
		return e.TargetID
	}
	return e.SourceID
}

type edgeKey struct {
	a, b string
}

func newEdgeKey(x, y string) edgeKey {
	if y < x {
		x, y = y, x
	}
	return edgeKey{a: x, b: y}
}

// KnowledgeGraph is a read-only snapshot. Nodes are sorted by ID and edges by
// endpoint pair.
type KnowledgeGraph struct {
	BookID string `json:"book_id"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`

	index map[string]int
	adj   map[string][]int
}

func newKnowledgeGraph(bookID string, nodes []Node, edges []Edge) *KnowledgeGraph {
	slices.SortFunc(nodes, func(a, b Node) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(edges, func(a, b Edge) int {
		if c := cmp.Compare(a.SourceID, b.SourceID); c != 0 {
			return c
		}
		return cmp.Compare(a.TargetID, b.TargetID)
	})
	g := &KnowledgeGraph{BookID: bookID, Nodes: nodes, Edges: edges}
	g.reindex()
	return g
}

func (g *KnowledgeGraph) reindex() {
	g.index = make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		g.index[n.ID] = i
	}
	g.adj = make(map[string][]int, len(g.Nodes))
	for i, e := range g.Edges {
		g.adj[e.SourceID] = append(g.adj[e.SourceID], i)
		g.adj[e.TargetID] = append(g.adj[e.TargetID], i)
	}
}

func (g *KnowledgeGraph) ensureIndex() {
	if g.index == nil {
		g.reindex()
	}
}

// Node looks up a node by ID.
func (g *KnowledgeGraph) Node(id string) (Node, bool) {
	g.ensureIndex()
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// EdgesOf returns the edges touching id, strongest first.
func (g *KnowledgeGraph) EdgesOf(id string) []Edge {
	g.ensureIndex()
	out := make([]Edge, 0, len(g.adj[id]))
	for _, i := range g.adj[id] {
		out = append(out, g.Edges[i])
	}
	slices.SortStableFunc(out, func(a, b Edge) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return cmp.Compare(a.Other(id), b.Other(id))
	})
	return out
}

// Neighbors returns the nodes sharing an edge with id, strongest first.
func (g *KnowledgeGraph) Neighbors(id string) []Node {
	edges := g.EdgesOf(id)
	out := make([]Node, 0, len(edges))
	for _, e := range edges {
		if n, ok := g.Node(e.Other(id)); ok {
			out = append(out, n)
		}
	}
	return out
}

// NodesOf returns the nodes of one kind in ID order.
func (g *KnowledgeGraph) NodesOf(kind common.EntityKind) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
