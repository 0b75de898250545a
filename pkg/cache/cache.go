// Package cache stores extraction results keyed by content fingerprint so
// that a highlight is analyzed by the external service at most once.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/wafkaw/book-digger/pkg/common"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("cache: store closed")

// Store is a pure key-value store from fingerprint to extraction result.
// Entries never expire during a run. Implementations must allow concurrent
// lookups and inserts; writing the same fingerprint twice is harmless.
type Store interface {
	// Lookup returns the cached result and true, or false on a miss.
	Lookup(ctx context.Context, fp common.Fingerprint) (common.ExtractionResult, bool, error)
	// Store records the result for fp.
	Store(ctx context.Context, fp common.Fingerprint, result common.ExtractionResult) error
	Close() error
}

// Entry is the persisted form of one cached result.
type Entry struct {
	Fingerprint common.Fingerprint      `json:"fingerprint"`
	Result      common.ExtractionResult `json:"result"`
	CreatedAt   time.Time               `json:"created_at"`
}

func newEntry(fp common.Fingerprint, result common.ExtractionResult) Entry {
	return Entry{
		Fingerprint: fp,
		Result:      result.Clone(),
		CreatedAt:   time.Now().UTC(),
	}
}
