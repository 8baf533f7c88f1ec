package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/vitesheet/internal/cfg"
	"github.com/keithlinneman/vitesheet/internal/content"
	"github.com/keithlinneman/vitesheet/internal/health"
	"github.com/keithlinneman/vitesheet/internal/httpmw"
	"github.com/keithlinneman/vitesheet/internal/httpserver"
	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/metrics"
	"github.com/keithlinneman/vitesheet/internal/opshttp"
	"github.com/keithlinneman/vitesheet/internal/otelx"
	"github.com/keithlinneman/vitesheet/internal/prof"
	"github.com/keithlinneman/vitesheet/internal/ratelimit"
	"github.com/keithlinneman/vitesheet/internal/slug"
	"github.com/keithlinneman/vitesheet/internal/slugapi"
	v "github.com/keithlinneman/vitesheet/internal/version"
)

const (
	component   = "server"
	drainPeriod = 30 * time.Second
	stopTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v, slugs=%d)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty, slug.Len(),
		)
		return 0
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf, vi.Release()); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	lvl, _ := log.ParseLevel(conf.LogLevel) // checked by Validate
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               vi.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"registered_slugs", slug.Len(),
		"content_mode", conf.Mode(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_content_updates", conf.EnableContentUpdates,
		"require_all_pages", conf.RequireAllPages,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(component, vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       vi.AppName + "." + component,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"version":  vi.Version,
			"commit":   vi.Commit,
			"build_id": vi.BuildId,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "profiling disabled")
	}
	defer stopProf()

	// the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   vi.AppName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}

	mgr := content.NewManager()
	runWatchers, err := setupContent(ctx, L, conf, mgr, m)
	if err != nil {
		L.Error(ctx, err, "content setup failed")
		return 1
	}
	go runWatchers(ctx)

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), health.Named("content", mgr))
	liveness := health.Fixed(true, "")

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimit, conf.RateBurst),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(m.IncRateLimitCapacity),
	)

	api := slugapi.NewAPI(slugapi.Options{Content: mgr, Logger: L, Metrics: m})

	stopHTTP, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:        L,
		Port:          conf.HTTPPort,
		Routes:        []httpserver.RouteRegistrar{api},
		Health:        liveness,
		Readiness:     readiness,
		RecoverPanics: true,
		OnPanic:       m.IncHttpPanic,
		MetricsMW:     m.Middleware,
		RateLimitMW:   limiter.Middleware,
		ClientIPOpts:  httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		ContentInfo:   mgr,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		return 1
	}

	stopOps, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:          conf.AdminPort,
		Metrics:       m.Handler(),
		EnablePprof:   conf.EnablePprof,
		Health:        liveness,
		Readiness:     readiness,
		RecoverPanics: true,
		OnPanic:       m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops listener")
		_ = stopHTTP(context.Background())
		return 1
	}

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "error", err)
	}

	<-ctx.Done()
	stop()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops routing before listeners close
	gate.Set("draining")
	drain(bg, L)

	sctx, cancel := context.WithTimeout(bg, stopTimeout)
	defer cancel()
	if err := stopHTTP(sctx); err != nil {
		L.Error(bg, err, "http server shutdown")
	}
	if err := stopOps(sctx); err != nil {
		L.Error(bg, err, "ops server shutdown")
	}
	if err := shutdownOTEL(sctx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	L.Info(bg, "shutdown complete")
	return 0
}

// drain waits out drainPeriod, cut short by a second signal.
func drain(ctx context.Context, L log.Logger) {
	L.Info(ctx, "draining", "period", drainPeriod.String())
	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	select {
	case <-time.After(drainPeriod):
		L.Info(ctx, "drain period complete")
	case <-force:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}
