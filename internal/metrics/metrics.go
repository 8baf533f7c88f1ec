// Package metrics owns the service's Prometheus registry. Every collector
// is registered on a private registry so tests and multiple servers never
// share state.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/vitesheet/internal/version"
)

// Slug lookup results.
const (
	LookupValid     = "valid"
	LookupUnknown   = "unknown"
	LookupMalformed = "malformed"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// content
	contentSource          *prometheus.GaugeVec
	contentLoadedTimestamp prometheus.Gauge
	contentBundleInfo      *prometheus.GaugeVec
	contentPages           prometheus.Gauge
	contentMissingPages    prometheus.Gauge
	slugLookupsTotal       *prometheus.CounterVec

	// watchers
	watcherPollsTotal    prometheus.Counter
	watcherSwapsTotal    prometheus.Counter
	watcherErrorsTotal   *prometheus.CounterVec
	bundleLoadDuration   prometheus.Histogram
	watcherLastSuccessTs prometheus.Gauge
	watcherStale         prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// New returns a registry with the Go and process collectors and every
// service metric. HTTP labels are limited to method, route and status.
func New() *ServerMetrics {
	m := &ServerMetrics{
		inflight: gauge("http_inflight_requests", "Current number of in-flight HTTP requests"),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: counter("http_panic_total", "Total number of recovered handler panics"),

		ratelimitDeniedTotal:   counter("http_requests_rate_limited_total", "Total requests rejected by the rate limiter"),
		ratelimitCapacityTotal: counter("http_requests_rate_limited_capacity_total", "Total times the rate limiter reached its visitor capacity"),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: gauge("profiling_active", "Whether continuous profiling is active (1) or not (0)"),

		contentSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_source_info",
			Help: "Current content source (label carries value, gauge is always 1)",
		}, []string{"source"}),
		contentLoadedTimestamp: gauge("content_loaded_timestamp_seconds", "Unix time the active content snapshot was loaded"),
		contentBundleInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_bundle_info",
			Help: "Active content snapshot (label carries identity, value is always 1)",
		}, []string{"hash", "version"}),
		contentPages:        gauge("content_pages", "Pages in the active snapshot bound to a registered slug"),
		contentMissingPages: gauge("content_missing_pages", "Registered slugs without a page in the active snapshot"),
		slugLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_slug_lookups_total",
			Help: "Slug lookups by result (valid, unknown, malformed)",
		}, []string{"result"}),

		watcherPollsTotal:  counter("content_watcher_polls_total", "Total watcher poll or reload cycles"),
		watcherSwapsTotal:  counter("content_watcher_swaps_total", "Total content snapshot swaps"),
		watcherErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "content_watcher_errors_total", Help: "Total watcher errors by type"}, []string{"type"}),
		bundleLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "content_bundle_load_duration_seconds",
			Help:    "Time to fetch, verify, and index a content snapshot",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		watcherLastSuccessTs: gauge("content_watcher_last_success_timestamp_seconds", "Unix time of the last successful poll"),
		watcherStale:         gauge("content_watcher_stale", "Whether the content watcher is stale (1) or healthy (0)"),
	}

	// pre-create result series so rates are defined before the first lookup
	for _, r := range []string{LookupValid, LookupUnknown, LookupMalformed} {
		m.slugLookupsTotal.WithLabelValues(r)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inflight, m.reqTotal, m.reqDur, m.respBytes, m.errorsTotal, m.httpPanicTotal,
		m.ratelimitDeniedTotal, m.ratelimitCapacityTotal,
		m.buildInfo, m.profilingActive,
		m.contentSource, m.contentLoadedTimestamp, m.contentBundleInfo,
		m.contentPages, m.contentMissingPages, m.slugLookupsTotal,
		m.watcherPollsTotal, m.watcherSwapsTotal, m.watcherErrorsTotal,
		m.bundleLoadDuration, m.watcherLastSuccessTs, m.watcherStale,
	)
	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDeniedTotal.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) { m.profilingActive.Set(b2f(active)) }

// ObserveSlugLookup counts one lookup. Unrecognised results are counted as
// malformed so the label set stays closed.
func (m *ServerMetrics) ObserveSlugLookup(result string) {
	switch result {
	case LookupValid, LookupUnknown:
	default:
		result = LookupMalformed
	}
	m.slugLookupsTotal.WithLabelValues(result).Inc()
}

// SetContent records the identity and coverage of the active snapshot.
func (m *ServerMetrics) SetContent(source, hash, ver string, loadedAt time.Time, pages, missing int) {
	m.contentSource.Reset()
	m.contentSource.WithLabelValues(source).Set(1)
	m.contentBundleInfo.Reset()
	m.contentBundleInfo.WithLabelValues(hash, ver).Set(1)
	m.contentLoadedTimestamp.Set(float64(loadedAt.Unix()))
	m.contentPages.Set(float64(pages))
	m.contentMissingPages.Set(float64(missing))
}

func (m *ServerMetrics) IncWatcherPolls() { m.watcherPollsTotal.Inc() }
func (m *ServerMetrics) IncWatcherSwaps() { m.watcherSwapsTotal.Inc() }
func (m *ServerMetrics) IncWatcherError(kind string) {
	m.watcherErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) ObserveBundleLoadDuration(seconds float64) {
	m.bundleLoadDuration.Observe(seconds)
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) { m.watcherStale.Set(b2f(stale)) }

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
