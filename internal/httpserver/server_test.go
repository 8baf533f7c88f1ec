package httpserver

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/vitesheet/internal/health"
	"github.com/keithlinneman/vitesheet/internal/httpmw"
)

func serve(h http.Handler, method, path string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	req.RemoteAddr = "203.0.113.10:5555"
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func echoRoutes() RouteRegistrar {
	return RouteFunc(func(r chi.Router) {
		r.Get("/api/echo/{v}", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"v":%q,"ip":%q}`, chi.URLParam(r, "v"), httpmw.ClientIPFromContext(r.Context()))
		})
		r.Get("/api/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
	})
}

func TestNewHandler_SecurityHeadersEverywhere(t *testing.T) {
	h := NewHandler(&Options{Routes: []RouteRegistrar{echoRoutes()}})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/echo/x"},
		{http.MethodGet, "/missing"},
		{http.MethodPost, "/api/echo/x"},
	} {
		rec := serve(h, tc.method, tc.path)
		if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s %s: security headers missing", tc.method, tc.path)
		}
		if rec.Header().Get(httpmw.DefaultRequestIDHeader) == "" {
			t.Errorf("%s %s: request id missing", tc.method, tc.path)
		}
	}
}

func TestNewHandler_JSONErrors(t *testing.T) {
	h := NewHandler(&Options{Routes: []RouteRegistrar{echoRoutes()}})

	rec := serve(h, http.MethodGet, "/nope")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `"not found"`) {
		t.Fatalf("404: %d %q", rec.Code, rec.Body.String())
	}
	rec = serve(h, http.MethodDelete, "/api/echo/x")
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Content-Type") != "application/json; charset=utf-8" {
		t.Fatalf("405: %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestNewHandler_RoutesAndClientIP(t *testing.T) {
	h := NewHandler(&Options{Routes: []RouteRegistrar{nil, echoRoutes()}})
	rec := serve(h, http.MethodGet, "/api/echo/css")
	if rec.Code != http.StatusOK || rec.Body.String() != `{"v":"css","ip":"203.0.113.10"}` {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewHandler_Probes(t *testing.T) {
	h := NewHandler(&Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(false, "no content"),
	})
	if rec := serve(h, http.MethodGet, healthPath); rec.Code != http.StatusOK {
		t.Fatalf("healthy = %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, readyPath); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready = %d", rec.Code)
	}
	if rec := serve(NewHandler(nil), http.MethodGet, readyPath); rec.Code != http.StatusNotFound {
		t.Fatalf("ready without probe = %d, want 404", rec.Code)
	}
}

type fixedContent struct{}

func (fixedContent) ContentVersion() string { return "2026.10" }
func (fixedContent) ContentHash() string    { return strings.Repeat("ab", 32) }

func TestNewHandler_ContentHeaders(t *testing.T) {
	rec := serve(NewHandler(&Options{ContentInfo: fixedContent{}}), http.MethodGet, "/x")
	if rec.Header().Get("X-Content-Version") != "2026.10" || rec.Header().Get("X-Content-Hash") != "abababababab" {
		t.Fatalf("headers = %v", rec.Header())
	}
	rec = serve(NewHandler(nil), http.MethodGet, "/x")
	if rec.Header().Get("X-Content-Version") != "" {
		t.Fatal("content header without content info")
	}
}

func TestNewHandler_OptionalMiddleware(t *testing.T) {
	var order []string
	mark := func(name string) httpmw.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "ratelimit")
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}

	h := NewHandler(&Options{Routes: []RouteRegistrar{echoRoutes()}, MetricsMW: mark("metrics")})
	serve(h, http.MethodGet, "/api/echo/a")
	if len(order) != 1 || order[0] != "metrics" {
		t.Fatalf("order = %v", order)
	}

	order = nil
	h = NewHandler(&Options{Routes: []RouteRegistrar{echoRoutes()}, MetricsMW: mark("metrics"), RateLimitMW: deny})
	rec := serve(h, http.MethodGet, "/api/echo/a")
	if rec.Code != http.StatusTooManyRequests || len(order) != 1 {
		t.Fatalf("rate limit should short-circuit before metrics: %d %v", rec.Code, order)
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("429 lacks security headers")
	}
}

func TestNewHandler_Recover(t *testing.T) {
	panics := 0
	h := NewHandler(&Options{Routes: []RouteRegistrar{echoRoutes()}, RecoverPanics: true, OnPanic: func() { panics++ }})
	rec := serve(h, http.MethodGet, "/api/panic")
	if rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("got %d, panics %d", rec.Code, panics)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("500 lacks security headers")
	}

	h = NewHandler(&Options{Routes: []RouteRegistrar{echoRoutes()}})
	defer func() {
		if recover() == nil {
			t.Fatal("panic swallowed with recovery disabled")
		}
	}()
	serve(h, http.MethodGet, "/api/panic")
}

func TestNewHandler_Compression(t *testing.T) {
	long := strings.Repeat("a", 2048)
	h := NewHandler(&Options{Routes: []RouteRegistrar{echoRoutes()}})

	rec := serve(h, http.MethodGet, "/api/echo/"+long, "Accept-Encoding", "gzip")
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", rec.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if !strings.Contains(string(body), long) {
		t.Fatal("decompressed body mismatch")
	}

	rec = serve(h, http.MethodGet, "/api/echo/x")
	if rec.Header().Get("Content-Encoding") != "" {
		t.Fatal("compressed without Accept-Encoding")
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.ReadTimeout != DefaultReadTimeout ||
		srv.WriteTimeout != DefaultWriteTimeout || srv.IdleTimeout != DefaultIdleTimeout ||
		srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("unexpected server config: %+v", srv)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart_ServeAndStop(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	stop, err := Start(ctx, &Options{Port: port, Routes: []RouteRegistrar{echoRoutes()}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/echo/dev", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"v":"dev"`) {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(httpmw.DefaultRequestIDHeader) == "" {
		t.Fatal("no request id on live server")
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_PortConflict(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	stop, err := Start(ctx, &Options{Port: port})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = stop(ctx) })
	if _, err := Start(ctx, &Options{Port: port}); err == nil {
		t.Fatal("second Start on same port succeeded")
	}
}
