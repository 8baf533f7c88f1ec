package httpmw

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/trace"
)

// TraceHeaderNames names the response headers written by TraceResponseHeaders.
// Empty fields use the defaults below; Sampled is only written when set.
type TraceHeaderNames struct {
	Trace   string
	Span    string
	Sampled string
}

const (
	DefaultTraceIDHeader = "X-Trace-Id"
	DefaultSpanIDHeader  = "X-Span-Id"
)

// TraceResponseHeaders echoes the server span's ids so a caller can quote
// them when reporting a failed lookup.
func TraceResponseHeaders(names TraceHeaderNames) Middleware {
	if names.Trace == "" {
		names.Trace = DefaultTraceIDHeader
	}
	if names.Span == "" {
		names.Span = DefaultSpanIDHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.SpanContextFromContext(r.Context())
			if !sc.IsValid() {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set(names.Trace, sc.TraceID().String())
			h.Set(names.Span, sc.SpanID().String())
			if names.Sampled != "" {
				h.Set(names.Sampled, strconv.FormatBool(sc.IsSampled()))
			}
			next.ServeHTTP(w, r)
		})
	}
}
