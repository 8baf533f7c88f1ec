package httpserver

import (
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/vitesheet/internal/health"
	"github.com/keithlinneman/vitesheet/internal/httpmw"
	"github.com/keithlinneman/vitesheet/internal/log"
)

// DefaultPort is the public listener port when Options.Port is zero.
const DefaultPort = 8080

// RouteRegistrar mounts routes on the router. slugapi.API satisfies it.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type Options struct {
	Logger log.Logger
	Port   int

	// Routes are mounted in order; earlier registrations win on conflicts.
	Routes []RouteRegistrar

	// Health and Readiness are also served on the public port so a load
	// balancer can probe it directly. Nil leaves the route unregistered.
	Health    health.Probe
	Readiness health.Probe

	RecoverPanics bool
	OnPanic       func()

	MetricsMW    httpmw.Middleware
	RateLimitMW  httpmw.Middleware
	ClientIPOpts httpmw.ClientIPOptions
	ContentInfo  httpmw.ContentInfo

	// MaxBodyBytes caps request bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

func (o *Options) logger() log.Logger {
	if o == nil || o.Logger == nil {
		return log.Nop()
	}
	return o.Logger
}

type routeFunc func(chi.Router)

func (f routeFunc) RegisterRoutes(r chi.Router) { f(r) }

// RouteFunc wraps f as a RouteRegistrar.
func RouteFunc(f func(chi.Router)) RouteRegistrar { return routeFunc(f) }
