package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/vitesheet/internal/health"
	"github.com/keithlinneman/vitesheet/internal/httpmw"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// DefaultMaxBodyBytes bounds request bodies. The API only serves GETs.
const DefaultMaxBodyBytes = 1 << 10

const (
	healthPath = "/-/healthy"
	readyPath  = "/-/ready"
)

// NewHandler builds the public handler: the chi router with the API routes
// wrapped in the full middleware stack. The caller owns the *http.Server.
func NewHandler(opts *Options) http.Handler {
	if opts == nil {
		opts = &Options{}
	}
	L := opts.logger()
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.Compress(5, "application/json", "text/markdown", "text/plain"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog(healthPath, readyPath))
	r.Use(httpmw.MaxBody(maxBody))

	if opts.Health != nil {
		r.Get(healthPath, health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get(readyPath, health.ReadyzHandler(opts.Readiness))
	}
	for _, rr := range opts.Routes {
		if rr != nil {
			rr.RegisterRoutes(r)
		}
	}
	r.NotFound(jsonError(http.StatusNotFound, "not found"))
	r.MethodNotAllowed(jsonError(http.StatusMethodNotAllowed, "method not allowed"))

	// innermost first from here; each wrap runs before the previous one
	var h http.Handler = httpmw.WithLogger(L)(r)
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}
	h = httpmw.TraceResponseHeaders(httpmw.TraceHeaderNames{})(h)
	h = httpmw.ContentHeaders(opts.ContentInfo)(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthPath && r.URL.Path != readyPath
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)
	h = httpmw.RequestID(httpmw.DefaultRequestIDHeader)(h)
	if opts.RecoverPanics {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return httpmw.SecurityHeaders(h)
}

func jsonError(status int, msg string) http.HandlerFunc {
	body := fmt.Sprintf("{\"error\":%q}\n", msg)
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 16
	shutdownTimeout          = 5 * time.Second
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves NewHandler(opts) in the background and returns an
// idempotent stop that drains in-flight requests.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts == nil {
		opts = &Options{}
	}
	L := opts.logger()
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)
	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}

	go func() {
		L.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var (
		once    sync.Once
		stopErr error
	)
	return func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, shutdownTimeout)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}, nil
}
