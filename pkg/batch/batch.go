// Package batch splits a book's highlights into cache hits and fixed-size
// batches of misses for the extraction client.
package batch

import (
	"context"
	"iter"

	"github.com/wafkaw/book-digger/pkg/cache"
	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/logger"
)

// DefaultSize is the number of highlights sent in one service call.
const DefaultSize = 5

// Indexed is a highlight that needs analysis, together with its position in
// the input. Followers holds the input positions of later highlights with
// identical normalized content; they reuse this highlight's result.
type Indexed struct {
	Index       int
	Highlight   common.Highlight
	Fingerprint common.Fingerprint
	Followers   []int
}

// Hit is a highlight whose result was found in the cache.
type Hit struct {
	Index       int
	Fingerprint common.Fingerprint
	Result      common.ExtractionResult
}

// Plan is the outcome of Partition.
type Plan struct {
	Hits   []Hit
	Misses []Indexed
	Total  int
}

// Pending returns the number of input highlights that are not cache hits,
// followers included.
func (p Plan) Pending() int {
	return p.Total - len(p.Hits)
}

// Partition looks every highlight up by fingerprint. Cache errors count as
// misses. Duplicate content inside one run is looked up and analyzed once.
// The only error returned is the context's.
func Partition(ctx context.Context, highlights []common.Highlight, store cache.Store) (Plan, error) {
	plan := Plan{Total: len(highlights)}

	type seen struct {
		hit    bool
		result common.ExtractionResult
		miss   int // index into plan.Misses
	}
	byFingerprint := make(map[common.Fingerprint]seen, len(highlights))

	for i, h := range highlights {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		fp := h.Fingerprint()

		if s, ok := byFingerprint[fp]; ok {
			if s.hit {
				plan.Hits = append(plan.Hits, Hit{Index: i, Fingerprint: fp, Result: s.result.Clone()})
			} else {
				leader := &plan.Misses[s.miss]
				leader.Followers = append(leader.Followers, i)
			}
			continue
		}

		result, ok, err := store.Lookup(ctx, fp)
		if err != nil {
			if ctx.Err() != nil {
				return Plan{}, ctx.Err()
			}
			logger.Warn("[Batch] Cache lookup failed, treating as miss", "highlight", h.Key(), "err", err)
			ok = false
		}
		if ok {
			byFingerprint[fp] = seen{hit: true, result: result}
			plan.Hits = append(plan.Hits, Hit{Index: i, Fingerprint: fp, Result: result})
			continue
		}

		byFingerprint[fp] = seen{miss: len(plan.Misses)}
		plan.Misses = append(plan.Misses, Indexed{Index: i, Highlight: h, Fingerprint: fp})
	}

	logger.Debug("[Batch] Partitioned highlights",
		"total", plan.Total, "hits", len(plan.Hits), "misses", len(plan.Misses))
	return plan, nil
}

// Batch is one group of highlights analyzed by a single service call.
type Batch struct {
	Seq   int
	Items []Indexed
}

// Highlights returns the batch members in order.
func (b Batch) Highlights() []common.Highlight {
	out := make([]common.Highlight, len(b.Items))
	for i, it := range b.Items {
		out[i] = it.Highlight
	}
	return out
}

// Fingerprint identifies the batch by its ordered member fingerprints.
func (b Batch) Fingerprint() common.Fingerprint {
	fps := make([]common.Fingerprint, len(b.Items))
	for i, it := range b.Items {
		fps[i] = it.Fingerprint
	}
	return common.BatchFingerprint(fps)
}

// Covered returns how many input highlights the batch resolves, followers
// included.
func (b Batch) Covered() int {
	n := 0
	for _, it := range b.Items {
		n += 1 + len(it.Followers)
	}
	return n
}

func normalizeSize(size int) int {
	if size <= 0 {
		return DefaultSize
	}
	return size
}

// Batches yields consecutive groups of at most size misses, preserving
// order. The final batch may be shorter. size <= 0 uses DefaultSize.
func Batches(misses []Indexed, size int) iter.Seq[Batch] {
	size = normalizeSize(size)
	return func(yield func(Batch) bool) {
		seq := 0
		for start := 0; start < len(misses); start += size {
			end := min(start+size, len(misses))
			if !yield(Batch{Seq: seq, Items: misses[start:end]}) {
				return
			}
			seq++
		}
	}
}

// Count returns the number of batches Batches yields for n misses.
func Count(n, size int) int {
	if n <= 0 {
		return 0
	}
	size = normalizeSize(size)
	return (n + size - 1) / size
}
