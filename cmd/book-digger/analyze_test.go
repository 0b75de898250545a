package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wafkaw/book-digger/internal/config"
	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/render"
)

func TestReadBook(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		body   string
		wantID string
		wantN  int
	}{
		{"full book", "ignored.json", `{"id":"zarathustra","highlights":[{"content":"a"},{"content":"b"}]}`, "zarathustra", 2},
		{"bare array", "notes/beyond-good.json", `[{"content":"a"}]`, "beyond-good", 1},
		{"stdin", "-", ` [{"content":"a"}] `, "book", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book, err := readBook(tt.input, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("readBook failed: %v", err)
			}
			if book.ID != tt.wantID || len(book.Highlights) != tt.wantN {
				t.Fatalf("unexpected book %+v", book)
			}
			for _, h := range book.Highlights {
				if h.SourceBookID != tt.wantID {
					t.Fatalf("source book id not filled: %+v", h)
				}
			}
		})
	}

	if _, err := readBook("x.json", strings.NewReader(`{"id":`)); err == nil {
		t.Fatalf("expected an error for malformed input")
	}
}

func TestRunAnalyze_Offline(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("AWS_BUCKET", "")
	t.Setenv("AI_MIN_IMPORTANCE_THRESHOLD", "0")

	dir := t.TempDir()
	input := filepath.Join(dir, "book.json")
	body := `{"id":"yalom","metadata":{"title":"When Nietzsche Wept","author":"Irvin D. Yalom"},
"highlights":[{"content":"人生的意义在于自由。","location":{"page":1}},{"content":"我们害怕死亡，也害怕孤独。","location":{"page":2}}]}`
	if err := os.WriteFile(input, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}

	out := filepath.Join(dir, "vault")
	var stdout bytes.Buffer
	err := runAnalyze(context.Background(), &stdout, analyzeFlags{input: input, out: out, offline: true})
	if err != nil {
		t.Fatalf("runAnalyze failed: %v", err)
	}

	if !strings.HasPrefix(stdout.String(), "yalom: 2 highlights") {
		t.Fatalf("unexpected report %q", stdout.String())
	}
	for _, name := range []string{"index.md", "graph.json"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
	}
}

func TestOutputSink_PrefersOutFolder(t *testing.T) {
	cfg := config.FromEnv()
	cfg.AWS.Bucket = "vaults"

	out, err := outputSink(context.Background(), cfg, analyzeFlags{out: "local"}, common.Book{ID: "yalom"})
	if err != nil {
		t.Fatalf("outputSink failed: %v", err)
	}
	if _, ok := out.sink.(render.DirSink); !ok || out.where != "local" || out.client != nil {
		t.Fatalf("expected the folder sink, got %+v", out)
	}
}
