package graph

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/logger"
)

// ImportanceStrategy decides how a node's importance changes when the entity
// is seen again.
type ImportanceStrategy string

const (
	// StrategyMax keeps the highest score seen.
	StrategyMax ImportanceStrategy = "max"
	// StrategyMean keeps the running mean over all sightings.
	StrategyMean ImportanceStrategy = "mean"
	// StrategyDecay keeps an exponential moving average that favors recent
	// sightings by DecayFactor.
	StrategyDecay ImportanceStrategy = "decay"
)

const (
	DefaultDecayFactor       = 0.3
	DefaultWeightScale       = 3.0
	DefaultMaxSourcesPerNode = 3
)

// ErrUnknownStrategy is returned for an importance strategy name that is not
// recognized.
var ErrUnknownStrategy = errors.New("graph: unknown importance strategy")

// ParseImportanceStrategy maps a configuration value to a strategy. The empty
// string selects StrategyMax.
func ParseImportanceStrategy(s string) (ImportanceStrategy, error) {
	switch ImportanceStrategy(s) {
	case "", StrategyMax:
		return StrategyMax, nil
	case StrategyMean:
		return StrategyMean, nil
	case StrategyDecay:
		return StrategyDecay, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

func (s ImportanceStrategy) combine(old, next float64, occurrences int, alpha float64) float64 {
	var v float64
	switch s {
	case StrategyMean:
		v = old + (next-old)/float64(occurrences)
	case StrategyDecay:
		v = alpha*next + (1-alpha)*old
	default:
		v = max(old, next)
	}
	return common.ClampImportance(v)
}

// EdgeWeight maps a co-occurrence count to a weight in (0,1) that grows with
// the count.
func EdgeWeight(count int, scale float64) float64 {
	if scale <= 0 {
		scale = DefaultWeightScale
	}
	return 1 - math.Exp(-float64(count)/scale)
}

// Builder accumulates extraction results into a graph. Ingest is expected to
// be driven by a single writer, but the Builder guards its state so readers
// may take snapshots concurrently.
type Builder struct {
	mu sync.Mutex

	bookID      string
	strategy    ImportanceStrategy
	decayFactor float64
	weightScale float64
	maxSources  int

	nodes    map[string]*Node
	edges    map[edgeKey]*Edge
	warnings []error
	ingested int
}

// NewBuilderParams configures a Builder. Zero values select the defaults.
type NewBuilderParams struct {
	BookID             string
	ImportanceStrategy ImportanceStrategy
	DecayFactor        float64
	WeightScale        float64
	MaxSourcesPerNode  int
}

func NewBuilder(params NewBuilderParams) *Builder {
	strategy := params.ImportanceStrategy
	if strategy == "" {
		strategy = StrategyMax
	}
	alpha := params.DecayFactor
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultDecayFactor
	}
	scale := params.WeightScale
	if scale <= 0 {
		scale = DefaultWeightScale
	}
	maxSources := params.MaxSourcesPerNode
	if maxSources <= 0 {
		maxSources = DefaultMaxSourcesPerNode
	}

	return &Builder{
		bookID:      params.BookID,
		strategy:    strategy,
		decayFactor: alpha,
		weightScale: scale,
		maxSources:  maxSources,
		nodes:       make(map[string]*Node),
		edges:       make(map[edgeKey]*Edge),
	}
}

type sighting struct {
	id         string
	label      string
	kind       common.EntityKind
	importance float64
}

// Ingest merges the result extracted from h. An invalid result is skipped as a
// whole and reported both as the returned error and in Warnings; the graph is
// left untouched in that case.
func (b *Builder) Ingest(h common.Highlight, r common.ExtractionResult) error {
	if err := r.Validate(); err != nil {
		err = fmt.Errorf("skip highlight %s: %w", h.Key(), err)
		logger.Warn("[Graph] Skipping invalid extraction result", "key", h.Key(), "err", err)

		b.mu.Lock()
		b.warnings = append(b.warnings, err)
		b.mu.Unlock()
		return err
	}

	// one sighting per node per highlight
	seen := make(map[string]int)
	var sightings []sighting
	for _, e := range r.All() {
		id := NodeID(e.Kind, e.NormalizedName)
		if i, ok := seen[id]; ok {
			sightings[i].importance = max(sightings[i].importance, e.Importance)
			continue
		}
		seen[id] = len(sightings)
		sightings = append(sightings, sighting{id: id, label: e.Name, kind: e.Kind, importance: e.Importance})
	}

	ref := h.Ref()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ingested++
	for _, s := range sightings {
		n, ok := b.nodes[s.id]
		if !ok {
			b.nodes[s.id] = &Node{
				ID:              s.id,
				Label:           s.label,
				Kind:            s.kind,
				Importance:      s.importance,
				OccurrenceCount: 1,
				Sources:         []common.HighlightRef{ref},
			}
			continue
		}
		n.OccurrenceCount++
		n.Importance = b.strategy.combine(n.Importance, s.importance, n.OccurrenceCount, b.decayFactor)
		if len(n.Sources) < b.maxSources {
			n.Sources = append(n.Sources, ref)
		}
	}

	ids := make([]string, len(sightings))
	for i, s := range sightings {
		ids[i] = s.id
	}
	slices.Sort(ids)
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			key := newEdgeKey(ids[i], ids[j])
			e, ok := b.edges[key]
			if !ok {
				e = &Edge{SourceID: key.a, TargetID: key.b}
				b.edges[key] = e
			}
			e.CooccurrenceCount++
			e.Weight = EdgeWeight(e.CooccurrenceCount, b.weightScale)
		}
	}
	return nil
}

// Ingested returns how many highlights were merged.
func (b *Builder) Ingested() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ingested
}

// Warnings returns the errors of every skipped result in ingestion order.
func (b *Builder) Warnings() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.warnings)
}

// Graph returns an unfiltered snapshot of the current graph.
func (b *Builder) Graph() *KnowledgeGraph {
	b.mu.Lock()
	defer b.mu.Unlock()

	nodes := make([]Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		c := *n
		c.Sources = slices.Clone(n.Sources)
		nodes = append(nodes, c)
	}
	edges := make([]Edge, 0, len(b.edges))
	for _, e := range b.edges {
		edges = append(edges, *e)
	}
	return newKnowledgeGraph(b.bookID, nodes, edges)
}

// Filter returns a snapshot with the quality filter applied.
func (b *Builder) Filter(opts FilterOptions) *KnowledgeGraph {
	return Filter(b.Graph(), opts)
}
