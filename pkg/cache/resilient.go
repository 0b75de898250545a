package cache

import (
	"context"

	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/logger"
)

type resilient struct {
	inner Store
}

// Resilient wraps s so that storage faults never surface: a failed lookup is
// a miss and a failed store is logged and dropped. Context errors still
// propagate so callers can stop on cancellation.
func Resilient(s Store) Store {
	if r, ok := s.(*resilient); ok {
		return r
	}
	return &resilient{inner: s}
}

func (r *resilient) Lookup(
	ctx context.Context,
	fp common.Fingerprint,
) (common.ExtractionResult, bool, error) {
	result, ok, err := r.inner.Lookup(ctx, fp)
	if err != nil {
		if ctx.Err() != nil {
			return common.ExtractionResult{}, false, ctx.Err()
		}
		logger.Warn("[Cache] Lookup failed, treating as miss", "fingerprint", fp, "err", err)
		return common.ExtractionResult{}, false, nil
	}
	return result, ok, nil
}

func (r *resilient) Store(
	ctx context.Context,
	fp common.Fingerprint,
	result common.ExtractionResult,
) error {
	if err := r.inner.Store(ctx, fp, result); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("[Cache] Store failed, result not cached", "fingerprint", fp, "err", err)
	}
	return nil
}

func (r *resilient) Close() error {
	return r.inner.Close()
}
