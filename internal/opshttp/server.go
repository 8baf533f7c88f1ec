package opshttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/vitesheet/internal/health"
	"github.com/keithlinneman/vitesheet/internal/httpmw"
	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

const shutdownTimeout = 5 * time.Second

// NewHandler builds the admin mux: /-/healthy, /-/ready, /metrics and,
// when enabled, /debug/pprof/. Disabled pprof paths answer 404.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	if opts == nil {
		opts = &Options{}
	}
	mux := http.NewServeMux()
	mux.Handle("/-/healthy", health.HealthzHandler(opts.Health))
	mux.Handle("/-/ready", health.ReadyzHandler(opts.Readiness))
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.Handle("/debug/pprof/", http.NotFoundHandler())
	}

	var h http.Handler = requireNonPublicNetwork(L, mux)
	if opts.RecoverPanics {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

// Start serves NewHandler on the admin port in the background. The
// returned stop drains it and is safe to call more than once.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	if opts == nil {
		opts = &Options{}
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// pprof profile and trace stream for up to 30s by default
		WriteTimeout:   45 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on admin addr %s", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr, "pprof", opts.EnablePprof)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var (
		once    sync.Once
		stopErr error
	)
	stop := func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, shutdownTimeout)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}
	return stop, nil
}
