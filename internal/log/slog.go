package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type slogLogger struct {
	h                 slog.Handler
	attrs             []slog.Attr
	includeErrorLinks bool
	maxErrorLinks     int
}

// implemented by xerrors wrappers
type hasPC interface{ PC() uintptr }
type hasStack interface{ StackPCs() []uintptr }

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = 8
	}

	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	h = traceHandler{next: h}
	h = stackHandler{next: h, level: opts.StacktraceLevel}

	attrs := []slog.Attr{slog.String("app", opts.App)}
	if opts.Version != "" {
		attrs = append(attrs, slog.String("version", opts.Version))
	}

	return &slogLogger{
		h:                 h,
		attrs:             attrs,
		includeErrorLinks: opts.IncludeErrorLinks,
		maxErrorLinks:     opts.MaxErrorLinks,
	}, nil
}

func (s *slogLogger) With(kv ...any) Logger {
	// copy-on-write so derived loggers can be shared across goroutines
	next := make([]slog.Attr, 0, len(s.attrs)+len(kv)/2)
	next = append(next, s.attrs...)
	next = appendKV(next, kv)
	return &slogLogger{
		h:                 s.h,
		attrs:             next,
		includeErrorLinks: s.includeErrorLinks,
		maxErrorLinks:     s.maxErrorLinks,
	}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv)
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		surface, root := classifyTypes(err)
		kv = append(kv, "err", err, "error_type", surface, "cause_type", root)
		if chain := errorChain(err); len(chain) > 0 {
			kv = append(kv, "error_chain", chain)
		}
		if s.includeErrorLinks {
			kv = append(kv, "error_links", chainLinks(err, s.maxErrorLinks))
		}
	}
	s.emit(ctx, slog.LevelError, msg, kv)
}

func (s *slogLogger) Sync() error { return nil }

func appendKV(dst []slog.Attr, kv []any) []slog.Attr {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			dst = append(dst, slog.Any(k, kv[i+1]))
		}
	}
	return dst
}

func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// skip runtime.Callers, emit, and the Debug/Info/Warn/Error method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(s.attrs...)
	r.AddAttrs(appendKV(nil, kv)...)
	_ = s.h.Handle(ctx, r)
}

// traceHandler adds trace_id and span_id when ctx carries a valid span.
type traceHandler struct{ next slog.Handler }

func (h traceHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{next: h.next.WithGroup(name)}
}

// stackHandler adds a "stack" attr at or above level, preferring the stack
// captured on the logged error over the logging call site.
type stackHandler struct {
	next  slog.Handler
	level slog.Level
}

func (h stackHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h stackHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.level {
		return h.next.Handle(ctx, r)
	}
	var pcs []uintptr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "err" {
			return true
		}
		if err, ok := a.Value.Any().(error); ok {
			var hs hasStack
			if errors.As(err, &hs) {
				pcs = hs.StackPCs()
			}
		}
		return false
	})
	if len(pcs) == 0 {
		pcs = make([]uintptr, 64)
		// skip runtime.Callers and Handle
		pcs = pcs[:runtime.Callers(2, pcs)]
	}
	r.AddAttrs(slog.String("stack", renderPCs(pcs)))
	return h.next.Handle(ctx, r)
}

func (h stackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stackHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h stackHandler) WithGroup(name string) slog.Handler {
	return stackHandler{next: h.next.WithGroup(name), level: h.level}
}

func isInternalFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

// renderPCs prints func/file:line pairs, dropping leading logger frames and
// stopping at the runtime.
func renderPCs(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !started && !isInternalFrame(fr.Function) {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// errorChain lists each distinct message from outermost to root, plus the
// members of a joined error.
func errorChain(err error) []string {
	out := make([]string, 0, 8)
	var prev string
	add := func(msg string) {
		if msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

// chainLinks returns up to max links with the source position of each
// wrapper that recorded one.
func chainLinks(err error, max int) []map[string]any {
	links := make([]map[string]any, 0, 8)
	depth := 0
	for e := err; e != nil && (max <= 0 || depth < max); e = errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := position(e)
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if depth == 0 || ok {
			links = append(links, link)
		}
		depth++
	}
	return links
}

func position(e error) (fn, file string, line int, ok bool) {
	switch v := e.(type) {
	case hasPC:
		if v.PC() == 0 {
			return "", "", 0, false
		}
		fr, _ := runtime.CallersFrames([]uintptr{v.PC()}).Next()
		return fr.Function, fr.File, fr.Line, true
	case hasStack:
		frames := runtime.CallersFrames(v.StackPCs())
		for {
			fr, more := frames.Next()
			if fr.Function != "" && !strings.HasPrefix(fr.Function, "runtime.") && !isInternalFrame(fr.Function) {
				return fr.Function, fr.File, fr.Line, true
			}
			if !more {
				return "", "", 0, false
			}
		}
	}
	return "", "", 0, false
}

// classifyTypes reports the first non-wrapper type in the chain and the
// type of the root cause.
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	var last error
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
		if surface != "" {
			continue
		}
		t := reflect.TypeOf(e)
		u := t
		for u.Kind() == reflect.Pointer {
			u = u.Elem()
		}
		if strings.Contains(u.PkgPath(), "/internal/xerrors") {
			continue
		}
		if u.PkgPath() == "fmt" && u.Name() == "wrapError" {
			continue
		}
		surface = t.String()
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, fmt.Sprintf("%T", last)
}
