package graph

import (
	"cmp"
	"slices"

	"github.com/wafkaw/book-digger/pkg/common"
)

const topEntries = 10

// Ranked is one entry of a frequency ranking.
type Ranked struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Occurrences int     `json:"occurrences"`
	Importance  float64 `json:"importance"`
}

// ImportanceDistribution buckets nodes as high (> 0.7), medium (0.3 to 0.7)
// and low (< 0.3).
type ImportanceDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Stats summarizes a graph for reports and the index document.
type Stats struct {
	Nodes             int                       `json:"nodes"`
	Edges             int                       `json:"edges"`
	ByKind            map[common.EntityKind]int `json:"by_kind"`
	TopConcepts       []Ranked                  `json:"top_concepts"`
	TopThemes         []Ranked                  `json:"top_themes"`
	Distribution      ImportanceDistribution    `json:"importance_distribution"`
	AverageImportance float64                   `json:"average_importance"`
}

func (g *KnowledgeGraph) Stats() Stats {
	s := Stats{
		Nodes:  len(g.Nodes),
		Edges:  len(g.Edges),
		ByKind: make(map[common.EntityKind]int, len(common.Kinds)),
	}
	for _, k := range common.Kinds {
		s.ByKind[k] = 0
	}

	var total float64
	for _, n := range g.Nodes {
		s.ByKind[n.Kind]++
		total += n.Importance
		switch {
		case n.Importance > 0.7:
			s.Distribution.High++
		case n.Importance >= 0.3:
			s.Distribution.Medium++
		default:
			s.Distribution.Low++
		}
	}
	if len(g.Nodes) > 0 {
		s.AverageImportance = total / float64(len(g.Nodes))
	}

	s.TopConcepts = top(g.NodesOf(common.KindConcept))
	s.TopThemes = top(g.NodesOf(common.KindTheme))
	return s
}

func top(nodes []Node) []Ranked {
	slices.SortFunc(nodes, func(a, b Node) int {
		if c := cmp.Compare(b.OccurrenceCount, a.OccurrenceCount); c != 0 {
			return c
		}
		return rank(a, b)
	})
	out := make([]Ranked, 0, min(len(nodes), topEntries))
	for _, n := range nodes[:min(len(nodes), topEntries)] {
		out = append(out, Ranked{ID: n.ID, Label: n.Label, Occurrences: n.OccurrenceCount, Importance: n.Importance})
	}
	return out
}
