package httpmw

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UnmatchedRoute names requests that no route claimed. Raw paths carry
// user-chosen slugs so they never become span names or log routes.
const UnmatchedRoute = "unmatched"

// RoutePattern returns the chi pattern that served r, or UnmatchedRoute.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return UnmatchedRoute
}

// withRouteContext seeds an empty chi route context so a router further in
// fills it and middleware outside the router can read the pattern.
func withRouteContext(r *http.Request) *http.Request {
	if chi.RouteContext(r.Context()) != nil {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
}

// AnnotateHTTPRoute renames the active span to "METHOD /pattern" once the
// router has resolved the route.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = withRouteContext(r)
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		route := RoutePattern(r)
		span.SetAttributes(attribute.String("http.route", route))
		span.SetName(r.Method + " " + route)
	})
}
