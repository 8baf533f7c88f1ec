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

	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) Logger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// lastRecord parses the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestSlog_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "vitesheet", Version: "1.2.3"})

	l.Info(context.Background(), "hello", "slug", "dev")

	m := lastRecord(t, &buf)
	if m["msg"] != "hello" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["app"] != "vitesheet" || m["version"] != "1.2.3" {
		t.Fatalf("base attrs = app:%v version:%v", m["app"], m["version"])
	}
	if m["slug"] != "dev" {
		t.Fatalf("slug = %v", m["slug"])
	}
}

func TestSlog_SourceIsCaller(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "t"})

	l.Info(context.Background(), "where")

	src, ok := lastRecord(t, &buf)["source"].(map[string]any)
	if !ok {
		t.Fatal("missing source")
	}
	if fn, _ := src["function"].(string); !strings.Contains(fn, "TestSlog_SourceIsCaller") {
		t.Fatalf("source.function = %q, want the test function", fn)
	}
}

func TestSlog_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "t", Level: slog.LevelWarn})

	l.Debug(context.Background(), "d")
	l.Info(context.Background(), "i")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %s", buf.String())
	}
	l.Warn(context.Background(), "w")
	if lastRecord(t, &buf)["msg"] != "w" {
		t.Fatal("warn should be written")
	}
}

func TestSlog_WithDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{App: "t"})
	child := base.With("component", "api")

	child.Info(context.Background(), "child")
	if lastRecord(t, &buf)["component"] != "api" {
		t.Fatal("child should carry component")
	}

	base.Info(context.Background(), "base")
	if _, ok := lastRecord(t, &buf)["component"]; ok {
		t.Fatal("With must not modify the parent logger")
	}
}

func TestSlog_WithIgnoresNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "t"}).With(42, "x", "ok", true)

	l.Info(context.Background(), "m")
	m := lastRecord(t, &buf)
	if m["ok"] != true {
		t.Fatalf("ok = %v", m["ok"])
	}
}

func TestSlog_ErrorFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "t", IncludeErrorLinks: true})

	root := errors.New("connection refused")
	err := xerrors.Wrap(root, "fetch bundle")
	l.Error(context.Background(), err, "load failed", "bucket", "b")

	m := lastRecord(t, &buf)
	if m["level"] != "ERROR" {
		t.Fatalf("level = %v", m["level"])
	}
	if m["err"] != "fetch bundle: connection refused" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	if m["error_type"] != "*errors.errorString" {
		t.Fatalf("error_type = %v (xerrors wrappers should be skipped)", m["error_type"])
	}
	chain, _ := m["error_chain"].([]any)
	if len(chain) != 2 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	links, _ := m["error_links"].([]any)
	if len(links) == 0 {
		t.Fatal("error_links missing")
	}
	first, _ := links[0].(map[string]any)
	if fn, _ := first["func"].(string); !strings.Contains(fn, "TestSlog_ErrorFields") {
		t.Fatalf("first link func = %v", first["func"])
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("error level should include stack")
	}
}

func TestSlog_ErrorNil(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "t"})

	l.Error(context.Background(), nil, "no error value")
	m := lastRecord(t, &buf)
	if _, ok := m["err"]; ok {
		t.Fatal("nil error should not add err attr")
	}
}

func TestSlog_StackFromError(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "t"})

	err := makeStackedError()
	l.Error(context.Background(), err, "boom")

	stack, _ := lastRecord(t, &buf)["stack"].(string)
	if !strings.Contains(stack, "makeStackedError") {
		t.Fatalf("stack should come from the error's capture site:\n%s", stack)
	}
}

func makeStackedError() error { return xerrors.New("deep failure") }

func TestSlog_StacktraceLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "t", StacktraceLevel: slog.LevelWarn})

	l.Warn(context.Background(), "w")
	if _, ok := lastRecord(t, &buf)["stack"]; !ok {
		t.Fatal("warn should include stack when StacktraceLevel is warn")
	}
}

func TestSlog_TraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "t"})

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := lastRecord(t, &buf)
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Fatalf("trace_id=%v span_id=%v", m["trace_id"], m["span_id"])
	}
}

func TestErrorChain_Joined(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.New("b"))
	chain := errorChain(err)
	if len(chain) != 3 {
		t.Fatalf("chain = %v, want joined message plus both members", chain)
	}
}

func TestClassifyTypes_FmtWrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", errors.New("inner"))
	surface, root := classifyTypes(err)
	if surface != "*errors.errorString" || root != "*errors.errorString" {
		t.Fatalf("surface=%s root=%s", surface, root)
	}
}

func TestChainLinks_Max(t *testing.T) {
	err := xerrors.Wrap(xerrors.Wrap(xerrors.Wrap(errors.New("x"), "a"), "b"), "c")
	if got := chainLinks(err, 2); len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}
