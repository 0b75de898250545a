// Package pipeline runs one book through partitioning, batched extraction and
// graph assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/ai"
	"github.com/wafkaw/book-digger/pkg/batch"
	"github.com/wafkaw/book-digger/pkg/cache"
	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/extract"
	"github.com/wafkaw/book-digger/pkg/graph"
	"github.com/wafkaw/book-digger/pkg/logger"
)

// ErrConfiguration is returned before any batch is issued when the runner or
// the run options cannot produce a valid graph.
var ErrConfiguration = errors.New("pipeline: invalid configuration")

const DefaultParallelBatches = 4

// Runner executes runs. One Runner may serve many concurrent runs; they share
// the extraction client and the cache and nothing else.
type Runner struct {
	extractor       *extract.Client
	cache           cache.Store
	parallelBatches int
	builder         graph.NewBuilderParams
	filter          graph.FilterOptions
}

// NewRunnerParams configures a Runner. Cache defaults to an in-memory store;
// ParallelBatches defaults to DefaultParallelBatches.
type NewRunnerParams struct {
	Extractor          *extract.Client
	Cache              cache.Store
	ParallelBatches    int
	ImportanceStrategy graph.ImportanceStrategy
	DecayFactor        float64
	WeightScale        float64
	MaxSourcesPerNode  int
	Filter             graph.FilterOptions
}

func NewRunner(params NewRunnerParams) (*Runner, error) {
	if params.Extractor == nil {
		return nil, fmt.Errorf("%w: extractor is required", ErrConfiguration)
	}
	if _, err := graph.ParseImportanceStrategy(string(params.ImportanceStrategy)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := validateFilter(params.Filter); err != nil {
		return nil, err
	}

	store := params.Cache
	if store == nil {
		store = cache.NewMemory()
	}
	parallel := params.ParallelBatches
	if parallel <= 0 {
		parallel = DefaultParallelBatches
	}

	return &Runner{
		extractor:       params.Extractor,
		cache:           store,
		parallelBatches: parallel,
		builder: graph.NewBuilderParams{
			ImportanceStrategy: params.ImportanceStrategy,
			DecayFactor:        params.DecayFactor,
			WeightScale:        params.WeightScale,
			MaxSourcesPerNode:  params.MaxSourcesPerNode,
		},
		filter: params.Filter,
	}, nil
}

func validateFilter(f graph.FilterOptions) error {
	switch {
	case f.MinImportance < 0 || f.MinImportance > 1:
		return fmt.Errorf("%w: min importance %v outside [0,1]", ErrConfiguration, f.MinImportance)
	case f.MinEdgeWeight < 0 || f.MinEdgeWeight >= 1:
		return fmt.Errorf("%w: min edge weight %v outside [0,1)", ErrConfiguration, f.MinEdgeWeight)
	case f.MinOccurrences < 0:
		return fmt.Errorf("%w: negative min occurrences", ErrConfiguration)
	case f.MaxNodesPerKind < 0:
		return fmt.Errorf("%w: negative max nodes per kind", ErrConfiguration)
	}
	return nil
}

// RunOptions customizes a single run.
type RunOptions struct {
	// Progress is called after every batch, never concurrently.
	Progress util.ProgressFunc
	// Filter replaces the runner's filter when set.
	Filter *graph.FilterOptions
}

// Summary describes how a run went.
type Summary struct {
	BookID     string          `json:"book_id"`
	Highlights int             `json:"highlights"`
	CacheHits  int             `json:"cache_hits"`
	Analyzed   int             `json:"analyzed"`
	Duplicates int             `json:"duplicates"`
	Batches    int             `json:"batches"`
	Attempts   int             `json:"attempts"`
	Degraded   int             `json:"degraded"`
	Skipped    int             `json:"skipped"`
	Stats      graph.Stats     `json:"stats"`
	Metrics    ai.ModelMetrics `json:"metrics"`
	Duration   time.Duration   `json:"duration"`
}

// Result is the output of a completed run.
type Result struct {
	Graph    *graph.KnowledgeGraph
	Summary  Summary
	Warnings []error
}

// progress serializes progress reports of one run.
type progress struct {
	mu   sync.Mutex
	cur  util.Progress
	emit util.ProgressFunc
}

func (p *progress) add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur.Processed += n
	if p.emit != nil {
		p.emit(p.cur)
	}
}

// Run analyzes every highlight of book exactly once and returns the filtered
// graph. On cancellation the partial graph is discarded and ctx.Err() is
// returned; cache entries written so far are kept.
func (r *Runner) Run(ctx context.Context, book common.Book, opts RunOptions) (*Result, error) {
	filter := r.filter
	if opts.Filter != nil {
		filter = *opts.Filter
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	start := time.Now()
	logger.Info("[Pipeline] Starting run", "book_id", book.ID, "highlights", len(book.Highlights))

	plan, err := batch.Partition(ctx, book.Highlights, r.cache)
	if err != nil {
		return nil, err
	}

	n := len(book.Highlights)
	results := make([]common.ExtractionResult, n)
	degraded := make([]bool, n)
	for _, h := range plan.Hits {
		// cached under possibly different limits
		results[h.Index] = r.extractor.Conform(h.Result)
	}

	size := r.extractor.Options().BatchSize
	summary := Summary{
		BookID:     book.ID,
		Highlights: n,
		CacheHits:  len(plan.Hits),
		Analyzed:   len(plan.Misses),
		Duplicates: plan.Pending() - len(plan.Misses),
		Batches:    batch.Count(len(plan.Misses), size),
	}

	prog := &progress{cur: util.Progress{Processed: len(plan.Hits), Total: n}, emit: opts.Progress}
	if len(plan.Misses) == 0 {
		prog.add(0)
	}

	// usage counts only this run's requests; the AI client is shared
	usage := &ai.MetricsRecorder{}
	var attempts sync.Mutex
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.parallelBatches)

	for b := range batch.Batches(plan.Misses, size) {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			out, err := r.extractor.Analyze(gctx, b.Highlights(), extract.WithBook(book.Metadata), extract.WithUsage(usage))
			if err != nil {
				return err
			}
			for i, it := range b.Items {
				results[it.Index] = out.Results[i]
				degraded[it.Index] = out.Degraded[i]
				for _, f := range it.Followers {
					results[f] = out.Results[i].Clone()
					degraded[f] = out.Degraded[i]
				}
			}

			attempts.Lock()
			summary.Attempts += out.Attempts
			attempts.Unlock()

			logger.Debug("[Pipeline] Batch done",
				"book_id", book.ID,
				"seq", b.Seq,
				"batch", b.Fingerprint()[:12],
				"state", out.State,
				"attempts", out.Attempts,
				"degraded", out.DegradedCount(),
			)
			prog.add(b.Covered())
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		logger.Warn("[Pipeline] Run aborted", "book_id", book.ID, "err", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("[Pipeline] Run aborted", "book_id", book.ID, "err", err)
		return nil, err
	}

	builderParams := r.builder
	builderParams.BookID = book.ID
	builder := graph.NewBuilder(builderParams)
	for i, h := range book.Highlights {
		if degraded[i] {
			summary.Degraded++
		}
		if err := builder.Ingest(h, results[i]); err != nil {
			summary.Skipped++
		}
	}

	g := builder.Filter(filter)
	summary.Stats = g.Stats()
	summary.Metrics = usage.Snapshot()
	summary.Duration = time.Since(start)

	logger.Info("[Pipeline] Run completed",
		"book_id", book.ID,
		"nodes", summary.Stats.Nodes,
		"edges", summary.Stats.Edges,
		"cache_hits", summary.CacheHits,
		"batches", summary.Batches,
		"degraded", summary.Degraded,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
	)
	if !r.extractor.Offline() {
		m := summary.Metrics
		logger.Info("[Pipeline] AI usage",
			"requests", m.Requests,
			"input_tokens", m.InputTokens,
			"output_tokens", m.OutputTokens,
			"tokens_per_second", m.TokenPerSecond,
		)
	}

	return &Result{Graph: g, Summary: summary, Warnings: builder.Warnings()}, nil
}
