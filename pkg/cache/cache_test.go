package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/wafkaw/book-digger/pkg/common"
)

func sampleResult() common.ExtractionResult {
	return common.ExtractionResult{
		Concepts: []common.Entity{common.NewEntity("Eternal Recurrence", 0.9, common.KindConcept)},
		People:   []common.Entity{common.NewEntity("Nietzsche", 0.7, common.KindPerson)},
		Summary:  "Live as if every moment returns.",
	}
}

func assertSameResult(t *testing.T, got, want common.ExtractionResult) {
	t.Helper()
	if got.Len() != want.Len() || got.Summary != want.Summary {
		t.Fatalf("result mismatch: got %+v, want %+v", got, want)
	}
	g, w := got.All(), want.All()
	for i := range w {
		if g[i] != w[i] {
			t.Fatalf("entity %d mismatch: got %+v, want %+v", i, g[i], w[i])
		}
	}
}

// exerciseStore checks the basic contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	fp := common.FingerprintOf("What does not kill me makes me stronger.")

	if _, ok, err := s.Lookup(ctx, common.FingerprintOf("never stored")); err != nil || ok {
		t.Fatalf("expected miss for unseen fingerprint, ok=%v err=%v", ok, err)
	}

	want := sampleResult()
	if err := s.Store(ctx, fp, want); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, ok, err := s.Lookup(ctx, fp)
	if err != nil || !ok {
		t.Fatalf("expected hit after store, ok=%v err=%v", ok, err)
	}
	assertSameResult(t, got, want)

	// a second write of the same fingerprint is harmless
	if err := s.Store(ctx, fp, want); err != nil {
		t.Fatalf("second Store: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Len())
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := m.Lookup(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	fp := common.FingerprintOf("copy")
	if err := m.Store(ctx, fp, sampleResult()); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, _, _ := m.Lookup(ctx, fp)
	got.Concepts[0].Name = "mutated"

	again, _, _ := m.Lookup(ctx, fp)
	if again.Concepts[0].Name != "Eternal Recurrence" {
		t.Fatalf("cached entry was mutated through a lookup result")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fp := common.FingerprintOf(strings.Repeat("x", i%5+1))
			_ = m.Store(ctx, fp, sampleResult())
			_, _, _ = m.Lookup(ctx, fp)
		}()
	}
	wg.Wait()
	if m.Len() != 5 {
		t.Fatalf("expected 5 distinct entries, got %d", m.Len())
	}
}

func TestFileStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.jsonl")

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	exerciseStore(t, f)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 1 {
		t.Fatalf("expected exactly one appended line, got %d", lines)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, ok, err := reopened.Lookup(context.Background(), common.FingerprintOf("What does not kill me makes me stronger."))
	if err != nil || !ok {
		t.Fatalf("expected persisted hit, ok=%v err=%v", ok, err)
	}
	assertSameResult(t, got, sampleResult())
}

func TestFileStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile on empty file: %v", err)
	}
	defer f.Close()
	if f.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", f.Len())
	}
}

func TestFileStore_SkipsCorruptAndTruncatedLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	good := common.FingerprintOf("good")
	if err := f.Store(ctx, good, sampleResult()); err != nil {
		t.Fatalf("Store: %v", err)
	}
	f.Close()

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corrupt write: %v", err)
	}
	_, _ = fh.WriteString("not json at all\n")
	_, _ = fh.WriteString(`{"fingerprint":"abc","result":{"concepts":[`)
	fh.Close()

	f, err = OpenFile(path)
	if err != nil {
		t.Fatalf("reopen with corrupt lines: %v", err)
	}
	if f.Len() != 1 {
		t.Fatalf("expected only the intact entry, got %d", f.Len())
	}

	next := common.FingerprintOf("after truncation")
	if err := f.Store(ctx, next, sampleResult()); err != nil {
		t.Fatalf("Store after truncation: %v", err)
	}
	f.Close()

	f, err = OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	if _, ok, _ := f.Lookup(ctx, next); !ok {
		t.Fatalf("entry appended after a truncated line was lost")
	}
	if f.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", f.Len())
	}
}

type failingStore struct {
	lookups int
	stores  int
}

var errBroken = errors.New("disk on fire")

func (f *failingStore) Lookup(context.Context, common.Fingerprint) (common.ExtractionResult, bool, error) {
	f.lookups++
	return common.ExtractionResult{}, false, errBroken
}

func (f *failingStore) Store(context.Context, common.Fingerprint, common.ExtractionResult) error {
	f.stores++
	return errBroken
}

func (f *failingStore) Close() error { return nil }

func TestTiered_BackfillsUpperTier(t *testing.T) {
	ctx := context.Background()
	upper, lower := NewMemory(), NewMemory()
	fp := common.FingerprintOf("tiered")
	if err := lower.Store(ctx, fp, sampleResult()); err != nil {
		t.Fatalf("Store: %v", err)
	}

	tiered := NewTiered(upper, lower)
	if _, ok, err := tiered.Lookup(ctx, fp); err != nil || !ok {
		t.Fatalf("expected hit from lower tier, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := upper.Lookup(ctx, fp); !ok {
		t.Fatalf("expected upper tier to be back-filled")
	}
}

func TestTiered_DegradesPastBrokenTier(t *testing.T) {
	ctx := context.Background()
	broken := &failingStore{}
	mem := NewMemory()
	tiered := NewTiered(broken, mem)
	exerciseStore(t, tiered)
	if broken.lookups == 0 || broken.stores == 0 {
		t.Fatalf("expected broken tier to be attempted")
	}

	all := NewTiered(&failingStore{}, &failingStore{})
	if err := all.Store(ctx, "fp", sampleResult()); err == nil {
		t.Fatalf("expected error when every tier fails")
	}
}

func TestResilient_ConvertsErrors(t *testing.T) {
	ctx := context.Background()
	s := Resilient(&failingStore{})

	_, ok, err := s.Lookup(ctx, "fp")
	if err != nil || ok {
		t.Fatalf("expected silent miss, ok=%v err=%v", ok, err)
	}
	if err := s.Store(ctx, "fp", sampleResult()); err != nil {
		t.Fatalf("expected store error to be swallowed, got %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := s.Lookup(canceled, "fp"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error to propagate, got %v", err)
	}

	if Resilient(s) != s {
		t.Fatalf("expected Resilient to not double wrap")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: BackendFile, Path: filepath.Join(t.TempDir(), "c.jsonl")})
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	exerciseStore(t, s)
	s.Close()

	if _, err := Open(ctx, Options{Backend: "etcd"}); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}

	tiered, err := Open(ctx, Options{
		Backend:  BackendTiered,
		Path:     filepath.Join(t.TempDir(), "c.jsonl"),
		RedisURL: "redis://127.0.0.1:1/0",
	})
	if err != nil {
		t.Fatalf("expected tiered backend to fall back to file, got %v", err)
	}
	exerciseStore(t, tiered)
	tiered.Close()
}
