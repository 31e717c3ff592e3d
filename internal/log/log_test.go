package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-echo/internal/xerrors"
)

func newTestLogger(t *testing.T, opts Options) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.Writer = &buf
	opts.JsonFormat = true
	if opts.App == "" {
		opts.App = "test"
	}
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

// ParseLevel

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"Warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// slog logger

func TestLogger_BaseAttrs(t *testing.T) {
	l, buf := newTestLogger(t, Options{App: "echo", Version: "1.0.0", Commit: "abc123"})
	l.Info(context.Background(), "hello", "k", "v")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	got := lines[0]
	if got["app"] != "echo" || got["version"] != "1.0.0" || got["commit"] != "abc123" {
		t.Fatalf("base attrs missing: %v", got)
	}
	if got["k"] != "v" || got["msg"] != "hello" {
		t.Fatalf("record = %v", got)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, Options{Level: slog.LevelWarn})
	l.Debug(context.Background(), "dropped")
	l.Info(context.Background(), "dropped")
	l.Warn(context.Background(), "kept")

	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Fatalf("lines = %v, want only the warn record", lines)
	}
}

func TestLogger_WithIsCopyOnWrite(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	a := l.With("component", "a")
	_ = l.With("component", "b")

	a.Info(context.Background(), "from a")
	l.Info(context.Background(), "from base")

	lines := decodeLines(t, buf)
	if lines[0]["component"] != "a" {
		t.Fatalf("derived logger lost its attr: %v", lines[0])
	}
	if _, ok := lines[1]["component"]; ok {
		t.Fatalf("base logger picked up derived attr: %v", lines[1])
	}
}

func TestLogger_SourceIsCaller(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	l.Info(context.Background(), "where")

	lines := decodeLines(t, buf)
	src, _ := lines[0]["source"].(map[string]any)
	if src == nil {
		t.Fatal("missing source attr")
	}
	if fn, _ := src["function"].(string); !strings.Contains(fn, "TestLogger_SourceIsCaller") {
		t.Fatalf("source function = %q, want test function", fn)
	}
}

func TestLogger_ErrorEnrichment(t *testing.T) {
	l, buf := newTestLogger(t, Options{IncludeErrorLinks: true})
	cause := errors.New("connection refused")
	err := xerrors.Wrap(cause, "fetch parameters")

	l.Error(context.Background(), err, "remote settings load failed")

	got := decodeLines(t, buf)[0]
	if got["err"] != "fetch parameters: connection refused" {
		t.Fatalf("err = %v", got["err"])
	}
	if got["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", got["cause_type"])
	}
	chain, _ := got["error_chain"].([]any)
	if len(chain) != 2 {
		t.Fatalf("error_chain = %v, want 2 entries", got["error_chain"])
	}
	links, _ := got["error_links"].([]any)
	if len(links) == 0 {
		t.Fatal("error_links missing")
	}
	if _, ok := got["stack"]; !ok {
		t.Fatal("error level record should carry a stack")
	}
}

func TestLogger_StacktraceLevel(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	l.Warn(context.Background(), "default threshold")
	if _, ok := decodeLines(t, buf)[0]["stack"]; ok {
		t.Fatal("warn record should not carry a stack by default")
	}

	l, buf = newTestLogger(t, Options{StacktraceLevel: slog.LevelInfo})
	l.Info(context.Background(), "lowered threshold")
	if _, ok := decodeLines(t, buf)[0]["stack"]; !ok {
		t.Fatal("info record should carry a stack when StacktraceLevel=info")
	}
}

func TestLogger_ErrorNil(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	l.Error(context.Background(), nil, "no error attached")

	got := decodeLines(t, buf)[0]
	if _, ok := got["err"]; ok {
		t.Fatalf("nil error should not add err attr: %v", got)
	}
}

func TestLogger_TraceCorrelation(t *testing.T) {
	l, buf := newTestLogger(t, Options{})

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	got := decodeLines(t, buf)[0]
	if got["trace_id"] != tid.String() || got["span_id"] != sid.String() {
		t.Fatalf("trace attrs = %v/%v", got["trace_id"], got["span_id"])
	}
}

func TestLogger_NilContext(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	l.Info(nil, "no ctx")
	if len(decodeLines(t, buf)) != 1 {
		t.Fatal("expected one record")
	}
}

// helpers

func TestErrorChain_Join(t *testing.T) {
	err := errors.Join(fmt.Errorf("a"), fmt.Errorf("b"))
	chain := errorChain(err)
	if len(chain) != 3 {
		t.Fatalf("chain = %v, want joined message plus both parts", chain)
	}
}

type lookupErr struct{ err error }

func (e *lookupErr) Error() string { return "lookup: " + e.err.Error() }
func (e *lookupErr) Unwrap() error { return e.err }

func TestClassifyTypes_SkipsWrappers(t *testing.T) {
	base := &lookupErr{errors.New("x")}
	err := xerrors.Wrap(fmt.Errorf("outer: %w", base), "ctx")

	surface, root := classifyTypes(err)
	if surface != "*log.lookupErr" {
		t.Fatalf("surface = %q, want lookupErr", surface)
	}
	if root != "*errors.errorString" {
		t.Fatalf("root = %q", root)
	}
}

// context

func TestFromContext_Fallback(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should fall back to Nop")
	}
}

func TestWithContext_RoundTrip(t *testing.T) {
	l, _ := newTestLogger(t, Options{})
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("FromContext returned a different logger")
	}
}

func TestNop_SafeToUse(t *testing.T) {
	n := Nop()
	n.With("a", 1).Info(context.Background(), "x")
	n.Error(context.Background(), errors.New("e"), "x")
	if err := n.Sync(); err != nil {
		t.Fatalf("Sync = %v", err)
	}
}
