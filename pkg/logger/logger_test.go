package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wafkaw/book-digger/pkg/logger/console"
)

type recordingInstance struct {
	lines []string
}

func (r *recordingInstance) record(level, message string, keyvals ...any) {
	r.lines = append(r.lines, level+" "+message)
	_ = keyvals
}

func (r *recordingInstance) Log(m string, kv ...any)   { r.record("log", m, kv...) }
func (r *recordingInstance) Debug(m string, kv ...any) { r.record("debug", m, kv...) }
func (r *recordingInstance) Info(m string, kv ...any)  { r.record("info", m, kv...) }
func (r *recordingInstance) Warn(m string, kv ...any)  { r.record("warn", m, kv...) }
func (r *recordingInstance) Error(m string, kv ...any) { r.record("error", m, kv...) }
func (r *recordingInstance) Fatal(m string, kv ...any) { r.record("fatal", m, kv...) }

func TestDispatchToAllInstances(t *testing.T) {
	a, b := &recordingInstance{}, &recordingInstance{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Info("[Test] hello", "k", 1)
	Warn("[Test] careful")
	Debug("[Test] details")

	for _, r := range []*recordingInstance{a, b} {
		if len(r.lines) != 3 {
			t.Fatalf("expected 3 lines, got %v", r.lines)
		}
		if r.lines[0] != "info [Test] hello" || r.lines[1] != "warn [Test] careful" {
			t.Fatalf("unexpected lines %v", r.lines)
		}
	}
}

func TestConsoleBackendWritesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Output: &buf}))
	t.Cleanup(func() { Init() })

	Info("[Cache] opened", "path", "cache.jsonl")
	Debug("[Cache] hidden at info level")

	out := buf.String()
	if !strings.Contains(out, "[Cache] opened") || !strings.Contains(out, "cache.jsonl") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %q", out)
	}
}
