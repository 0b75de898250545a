package cache

import (
	"context"
	"sync"

	"github.com/wafkaw/book-digger/pkg/common"
)

// Memory is an in-process Store. It is the default for one-shot runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[common.Fingerprint]Entry
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[common.Fingerprint]Entry)}
}

func (m *Memory) Lookup(
	ctx context.Context,
	fp common.Fingerprint,
) (common.ExtractionResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return common.ExtractionResult{}, false, ErrClosed
	}
	e, ok := m.entries[fp]
	if !ok {
		return common.ExtractionResult{}, false, nil
	}
	return e.Result.Clone(), true, nil
}

func (m *Memory) Store(
	ctx context.Context,
	fp common.Fingerprint,
	result common.ExtractionResult,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.entries[fp]; ok {
		return nil
	}
	m.entries[fp] = newEntry(fp, result)
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
