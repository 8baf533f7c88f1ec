package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no route claimed, keeping raw paths out
// of label values.
const unmatchedRoute = "unmatched"

type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware records in-flight, count, latency, size and 5xx errors per
// method and route pattern.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// a route context must exist before routing so the pattern chi
		// resolves is visible here afterwards
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		defer m.inflight.Dec()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		code := sw.status
		if code == 0 {
			code = http.StatusOK
		}
		ctx := r.Context()
		route := routePattern(ctx)

		m.reqTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		if code >= 500 {
			m.errorsTotal.WithLabelValues(r.Method, route).Inc()
		}

		obs := m.reqDur.WithLabelValues(r.Method, route)
		lat := time.Since(start).Seconds()
		if eo, ok := obs.(prometheus.ExemplarObserver); ok {
			if ex := traceExemplar(ctx); ex != nil {
				eo.ObserveWithExemplar(lat, ex)
			} else {
				obs.Observe(lat)
			}
		} else {
			obs.Observe(lat)
		}
		m.respBytes.WithLabelValues(r.Method, route).Observe(float64(sw.n))
	})
}

func routePattern(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// traceExemplar returns the trace_id of a sampled span, or nil.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
