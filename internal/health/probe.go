package health

import (
	"context"
	"sync"

	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// Probe is evaluated per request. nil means healthy.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// Named wraps p so its failures read "name: reason".
func Named(name string, p Probe) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		if err := p.Check(ctx); err != nil {
			return xerrors.Wrap(err, name)
		}
		return nil
	}
}

// All passes when every non-nil probe passes. It stops at the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when at least one non-nil probe passes, else returns the last
// failure.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last == nil {
			return xerrors.New("no healthy probes")
		}
		return last
	}
}

// ShutdownGate fails readiness while set.
type ShutdownGate struct {
	mu       sync.RWMutex
	draining bool
	reason   string
}

func (g *ShutdownGate) Set(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.draining, g.reason = true, reason
}

func (g *ShutdownGate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.draining, g.reason = false, ""
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		g.mu.RLock()
		defer g.mu.RUnlock()
		if !g.draining {
			return nil
		}
		if g.reason == "" {
			return xerrors.New("draining")
		}
		return xerrors.New(g.reason)
	}
}
