package batch

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/wafkaw/book-digger/pkg/cache"
	"github.com/wafkaw/book-digger/pkg/common"
)

func highlights(contents ...string) []common.Highlight {
	out := make([]common.Highlight, len(contents))
	for i, c := range contents {
		out[i] = common.Highlight{
			Content:      c,
			Location:     common.Location{Page: i + 1, Position: i * 10},
			SourceBookID: "book-1",
		}
	}
	return out
}

func TestBatches(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{name: "empty", n: 0, size: 5, sizes: nil},
		{name: "exact", n: 10, size: 5, sizes: []int{5, 5}},
		{name: "short tail", n: 12, size: 5, sizes: []int{5, 5, 2}},
		{name: "size one", n: 3, size: 1, sizes: []int{1, 1, 1}},
		{name: "zero falls back to default", n: 7, size: 0, sizes: []int{5, 2}},
		{name: "negative falls back to default", n: 3, size: -1, sizes: []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			misses := make([]Indexed, tt.n)
			for i := range misses {
				misses[i] = Indexed{Index: i}
			}

			var sizes []int
			next := 0
			for b := range Batches(misses, tt.size) {
				if b.Seq != len(sizes) {
					t.Fatalf("expected seq %d, got %d", len(sizes), b.Seq)
				}
				for _, it := range b.Items {
					if it.Index != next {
						t.Fatalf("order not preserved: expected %d, got %d", next, it.Index)
					}
					next++
				}
				sizes = append(sizes, len(b.Items))
			}
			if !slices.Equal(sizes, tt.sizes) {
				t.Fatalf("expected batch sizes %v, got %v", tt.sizes, sizes)
			}
			if got := Count(tt.n, tt.size); got != len(tt.sizes) {
				t.Fatalf("Count(%d, %d) = %d, want %d", tt.n, tt.size, got, len(tt.sizes))
			}
		})
	}
}

func TestBatches_StopsEarly(t *testing.T) {
	misses := make([]Indexed, 20)
	n := 0
	for range Batches(misses, 5) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected to stop after 2 batches, got %d", n)
	}
}

func TestPartition(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	hs := highlights("cached one", "fresh", "  FRESH ", "another", "Cached   One")

	cached := common.ExtractionResult{Summary: "from cache"}
	if err := store.Store(ctx, common.FingerprintOf("cached one"), cached); err != nil {
		t.Fatalf("seed: %v", err)
	}

	plan, err := Partition(ctx, hs, store)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if plan.Total != 5 || len(plan.Hits) != 2 || len(plan.Misses) != 2 {
		t.Fatalf("unexpected plan: total=%d hits=%d misses=%d", plan.Total, len(plan.Hits), len(plan.Misses))
	}
	if plan.Hits[0].Index != 0 || plan.Hits[1].Index != 4 || plan.Hits[1].Result.Summary != "from cache" {
		t.Fatalf("unexpected hits %+v", plan.Hits)
	}
	if plan.Misses[0].Index != 1 || !slices.Equal(plan.Misses[0].Followers, []int{2}) {
		t.Fatalf("expected duplicate to follow the first miss, got %+v", plan.Misses[0])
	}
	if plan.Misses[1].Index != 3 || len(plan.Misses[1].Followers) != 0 {
		t.Fatalf("unexpected second miss %+v", plan.Misses[1])
	}
	if plan.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", plan.Pending())
	}

	var covered int
	for b := range Batches(plan.Misses, 5) {
		covered += b.Covered()
	}
	if covered != plan.Pending() {
		t.Fatalf("batches cover %d highlights, want %d", covered, plan.Pending())
	}
}

// brokenStore fails every lookup.
type brokenStore struct{}

func (brokenStore) Lookup(context.Context, common.Fingerprint) (common.ExtractionResult, bool, error) {
	return common.ExtractionResult{}, false, errors.New("unreachable")
}

func (brokenStore) Store(context.Context, common.Fingerprint, common.ExtractionResult) error {
	return nil
}

func (brokenStore) Close() error { return nil }

func TestPartition_CacheErrorsAreMisses(t *testing.T) {
	plan, err := Partition(context.Background(), highlights("a", "b", "c"), brokenStore{})
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(plan.Misses) != 3 || len(plan.Hits) != 0 {
		t.Fatalf("expected all misses, got %+v", plan)
	}
}

func TestPartition_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Partition(ctx, highlights("a"), cache.NewMemory()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBatchFingerprint(t *testing.T) {
	hs := highlights("x", "y")
	plan, _ := Partition(context.Background(), hs, cache.NewMemory())

	var first, again common.Fingerprint
	for b := range Batches(plan.Misses, 5) {
		first = b.Fingerprint()
		if got := b.Highlights(); len(got) != 2 || got[1].Content != "y" {
			t.Fatalf("unexpected highlights %v", got)
		}
	}
	for b := range Batches(plan.Misses, 5) {
		again = b.Fingerprint()
	}
	if first == "" || first != again {
		t.Fatalf("batch fingerprint not stable: %q vs %q", first, again)
	}

	reversed := []Indexed{plan.Misses[1], plan.Misses[0]}
	for b := range Batches(reversed, 5) {
		if b.Fingerprint() == first {
			t.Fatalf("expected order sensitive fingerprint, got %s", first)
		}
	}
}
