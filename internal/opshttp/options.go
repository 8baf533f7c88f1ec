package opshttp

import (
	"net/http"

	"github.com/keithlinneman/vitesheet/internal/health"
)

// DefaultPort is the admin listener port when Options.Port is zero.
const DefaultPort = 9000

// Options configures the admin listener.
type Options struct {
	Port        int
	Metrics     http.Handler // served at /metrics when set
	EnablePprof bool
	Health      health.Probe // /-/healthy, nil always passes
	Readiness   health.Probe // /-/ready, nil always passes

	// RecoverPanics wraps the mux in httpmw.Recover. OnPanic is passed
	// through, typically ServerMetrics.IncHttpPanic.
	RecoverPanics bool
	OnPanic       func()
}
