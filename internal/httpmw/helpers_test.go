package httpmw

import (
	"context"
	"net/http"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/vitesheet/internal/log"
)

type logEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// spyLogger records every call. With accumulates fields so tests can see
// what a middleware attached.
type spyLogger struct {
	log.Logger
	mu      *sync.Mutex
	entries *[]logEntry
	fields  []any
}

func newSpyLogger() *spyLogger {
	return &spyLogger{Logger: log.Nop(), mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (s *spyLogger) With(kv ...any) log.Logger {
	cp := *s
	cp.fields = append(append([]any(nil), s.fields...), kv...)
	return &cp
}

func (s *spyLogger) record(level, msg string, err error, kv []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(append([]any(nil), s.fields...), kv...)
	*s.entries = append(*s.entries, logEntry{level: level, msg: msg, err: err, kv: all})
}

func (s *spyLogger) Info(_ context.Context, msg string, kv ...any) { s.record("info", msg, nil, kv) }
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.record("error", msg, err, kv)
}

func (s *spyLogger) all() []logEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logEntry(nil), (*s.entries)...)
}

func (s *spyLogger) last(t *testing.T) logEntry {
	t.Helper()
	e := s.all()
	if len(e) == 0 {
		t.Fatal("nothing logged")
	}
	return e[len(e)-1]
}

func field(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

// withSpan runs next inside a recording server span.
func withSpan(t *testing.T, next http.Handler) (http.Handler, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer("test")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "server", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	}), rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})
