package cache

import (
	"context"
	"errors"

	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/logger"
)

// Tiered reads through an ordered list of stores, fastest first. A hit in a
// lower tier is copied into every tier above it. Writes go to all tiers.
type Tiered struct {
	tiers []Store
}

func NewTiered(tiers ...Store) *Tiered {
	return &Tiered{tiers: tiers}
}

// Lookup falls through to the next tier when one fails, so a broken tier
// only costs a miss in that tier.
func (t *Tiered) Lookup(
	ctx context.Context,
	fp common.Fingerprint,
) (common.ExtractionResult, bool, error) {
	var errs []error
	for i, tier := range t.tiers {
		result, ok, err := tier.Lookup(ctx, fp)
		if err != nil {
			errs = append(errs, err)
			logger.Warn("[Cache] Tier lookup failed", "tier", i, "err", err)
			continue
		}
		if !ok {
			continue
		}
		for j := range i {
			if err := t.tiers[j].Store(ctx, fp, result); err != nil {
				logger.Warn("[Cache] Back-fill failed", "tier", j, "err", err)
			}
		}
		return result, true, nil
	}
	if len(errs) == len(t.tiers) && len(errs) > 0 {
		return common.ExtractionResult{}, false, errors.Join(errs...)
	}
	return common.ExtractionResult{}, false, nil
}

// Store writes to every tier and returns an error only when all of them
// failed.
func (t *Tiered) Store(
	ctx context.Context,
	fp common.Fingerprint,
	result common.ExtractionResult,
) error {
	var errs []error
	for i, tier := range t.tiers {
		if err := tier.Store(ctx, fp, result); err != nil {
			errs = append(errs, err)
			logger.Warn("[Cache] Tier store failed", "tier", i, "err", err)
		}
	}
	if len(errs) == len(t.tiers) && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (t *Tiered) Close() error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
