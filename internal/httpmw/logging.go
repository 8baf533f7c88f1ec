package httpmw

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

const tracerName = "vitesheet/httpmw"

// accessWriter records status and size, and opens a response.write span on
// the first header or body write so time to first byte and time blocked on
// the client are visible in traces.
type accessWriter struct {
	http.ResponseWriter
	status int
	bytes  int64

	ctx      context.Context
	start    time.Time
	span     trace.Span
	started  bool
	blocked  time.Duration
	writeErr error
}

func (aw *accessWriter) begin() {
	if aw.started {
		return
	}
	aw.started = true
	if !trace.SpanFromContext(aw.ctx).IsRecording() {
		return
	}
	ttfb := time.Since(aw.start)
	_, aw.span = otel.Tracer(tracerName).Start(aw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())))
}

func (aw *accessWriter) end() {
	if aw.span == nil {
		return
	}
	aw.span.SetAttributes(
		attribute.Int("http.response.status_code", aw.code()),
		attribute.Int64("http.response.body.size", aw.bytes),
		attribute.Float64("http.server.write.block_seconds", aw.blocked.Seconds()),
	)
	if aw.writeErr != nil {
		aw.span.RecordError(aw.writeErr)
		aw.span.SetStatus(codes.Error, aw.writeErr.Error())
	}
	aw.span.End()
}

func (aw *accessWriter) code() int {
	if aw.status == 0 {
		return http.StatusOK
	}
	return aw.status
}

func (aw *accessWriter) WriteHeader(code int) {
	aw.begin()
	if aw.status == 0 {
		aw.status = code
	}
	t := time.Now()
	aw.ResponseWriter.WriteHeader(code)
	aw.blocked += time.Since(t)
}

func (aw *accessWriter) Write(b []byte) (int, error) {
	aw.begin()
	if aw.status == 0 {
		aw.status = http.StatusOK
	}
	t := time.Now()
	n, err := aw.ResponseWriter.Write(b)
	aw.blocked += time.Since(t)
	aw.bytes += int64(n)
	if err != nil && aw.writeErr == nil {
		aw.writeErr = err
	}
	return n, err
}

func (aw *accessWriter) Flush() {
	if f, ok := aw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (aw *accessWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := aw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, xerrors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (aw *accessWriter) Unwrap() http.ResponseWriter { return aw.ResponseWriter }

// WithLogger puts a request-scoped logger in the context carrying the
// request ID, resolved client address, peer, method, path and scheme, and
// copies the same fields onto the server span.
func WithLogger(base log.Logger) Middleware {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)
			client := ClientIPFromContext(ctx)
			peer := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peer); err == nil {
				peer = host
			}
			if client == "" {
				client = peer
			}
			scheme := requestScheme(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"server.address", r.Host,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLog writes one "http request" line per response using the logger
// WithLogger stored. Requests whose path is in skip are not logged.
func AccessLog(skip ...string) Middleware {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = withRouteContext(r)
			start := time.Now()
			aw := &accessWriter{ResponseWriter: w, ctx: r.Context(), start: start}

			next.ServeHTTP(aw, r)
			aw.end()

			if _, ok := skipped[r.URL.Path]; ok {
				return
			}
			var reqSize int64
			if r.ContentLength > 0 {
				reqSize = r.ContentLength
			}
			ctx := r.Context()
			log.FromContext(ctx).Info(ctx, "http request",
				"http.response.status_code", aw.code(),
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", aw.bytes,
				"http.request.body.size", reqSize,
				"http.route", RoutePattern(r),
			)
		})
	}
}

// Scope tags the request logger and span with the handler name.
func Scope(handler string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestScheme trusts X-Forwarded-Proto only when ClientIP left it in
// place, which it does for requests from trusted proxies.
func requestScheme(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		s := strings.ToLower(strings.TrimSpace(strings.Split(xf, ",")[0]))
		if s == "http" || s == "https" {
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
