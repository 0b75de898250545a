package ai

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

type extractedItem struct {
	Index    int      `json:"index"`
	Concepts []string `json:"concepts"`
	Summary  string   `json:"summary,omitempty"`
}

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  extractedItem
	}{
		{
			name:  "valid json object",
			input: `{"index":1,"concepts":["freedom"]}`,
			want:  extractedItem{Index: 1, Concepts: []string{"freedom"}},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{index: 1, concepts: ['freedom']}`,
			want:  extractedItem{Index: 1, Concepts: []string{"freedom"}},
		},
		{
			name:  "trailing comma",
			input: `{"index":1,"concepts":["freedom",],}`,
			want:  extractedItem{Index: 1, Concepts: []string{"freedom"}},
		},
		{
			name:  "missing end bracket",
			input: `{"index":1,"concepts":["freedom"]`,
			want:  extractedItem{Index: 1, Concepts: []string{"freedom"}},
		},
		{
			name:  "stringified object",
			input: `"{\"index\":1,\"concepts\":[\"freedom\"]}"`,
			want:  extractedItem{Index: 1, Concepts: []string{"freedom"}},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"index\": 1, \"concepts\": [\"freedom\"]\n}\n",
			want:  extractedItem{Index: 1, Concepts: []string{"freedom"}},
		},
		{
			name:  "fenced code block",
			input: "```json\n{\"index\": 1, \"concepts\": [\"freedom\"]}\n```",
			want:  extractedItem{Index: 1, Concepts: []string{"freedom"}},
		},
		{
			name:  "json inside prose",
			input: "Here is the analysis:\n{\"index\": 1, \"concepts\": [\"freedom\"]}\nHope this helps.",
			want:  extractedItem{Index: 1, Concepts: []string{"freedom"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got extractedItem
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got.Index != tc.want.Index || strings.Join(got.Concepts, ",") != strings.Join(tc.want.Concepts, ",") {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_Empty(t *testing.T) {
	var got extractedItem
	if err := UnmarshalFlexible("   ", &got); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	var got extractedItem
	if err := UnmarshalFlexible("hello", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestGenerateSchema_InlinesNestedTypes(t *testing.T) {
	type entity struct {
		Name string `json:"name"`
	}
	type response struct {
		Items []entity `json:"items"`
	}

	raw, err := json.Marshal(GenerateSchema(&response{}))
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	s := string(raw)
	if strings.Contains(s, "$ref") {
		t.Fatalf("expected inlined schema, got %s", s)
	}
	if !strings.Contains(s, `"additionalProperties":false`) {
		t.Fatalf("expected additionalProperties false, got %s", s)
	}
	if !strings.Contains(s, `"items"`) || !strings.Contains(s, `"name"`) {
		t.Fatalf("expected nested properties, got %s", s)
	}
}

func TestMetricsRecorder(t *testing.T) {
	var rec MetricsRecorder
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Add(ModelMetrics{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, DurationMs: 100})
		}()
	}
	wg.Wait()

	m := rec.Snapshot()
	if m.Requests != 10 || m.TotalTokens != 150 || m.DurationMs != 1000 {
		t.Fatalf("unexpected totals: %+v", m)
	}
	if m.TokenPerSecond != 150 {
		t.Fatalf("expected 150 tokens/s, got %v", m.TokenPerSecond)
	}

	rec.Reset()
	if got := rec.Snapshot(); got != (ModelMetrics{}) {
		t.Fatalf("expected zero metrics after reset, got %+v", got)
	}
}

func TestApproxTokenCounter(t *testing.T) {
	counter, err := NewTokenCounter("")
	if err != nil {
		t.Fatalf("NewTokenCounter: %v", err)
	}
	if got := counter.Count("abcdefgh"); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}
	if got := counter.Count("abcdefghi"); got != 3 {
		t.Fatalf("expected 3 tokens, got %d", got)
	}
	if got := counter.Truncate("天地玄黄宇宙洪荒", 1); got != "天地玄黄" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := counter.Truncate("short", 10); got != "short" {
		t.Fatalf("expected untouched text, got %q", got)
	}
}

func TestApplyOptions(t *testing.T) {
	got := ApplyOptions(
		GenerateOptions{Model: "base", Temperature: 0.3},
		WithModel("gpt-4o-mini"),
		WithTemperature(0.1),
		WithSystemPrompts("a", "b"),
	)
	if got.Model != "gpt-4o-mini" || got.Temperature != 0.1 || len(got.SystemPrompts) != 2 {
		t.Fatalf("unexpected options %+v", got)
	}
}
