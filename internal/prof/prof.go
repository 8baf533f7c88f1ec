// Package prof pushes continuous profiles to a Pyroscope server.
package prof

import (
	"context"
	"maps"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string
	Tags          map[string]string

	// Mutex and block profiles are only collected when these are positive.
	MutexProfileFraction int
	BlockProfileRate     int

	// OnActive reports whether profiling is running, e.g. to a gauge.
	OnActive func(bool)
}

var baseProfiles = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// profileTypes adds the mutex and block profiles only when the runtime
// is set to sample them.
func profileTypes(o Options) []pyroscope.ProfileType {
	types := append([]pyroscope.ProfileType(nil), baseProfiles...)
	if o.MutexProfileFraction > 0 {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if o.BlockProfileRate > 0 {
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return types
}

func config(o Options) (pyroscope.Config, error) {
	if o.ServerAddress == "" {
		return pyroscope.Config{}, xerrors.New("pyroscope server address is required")
	}
	if o.AppName == "" {
		return pyroscope.Config{}, xerrors.New("pyroscope app name is required")
	}
	return pyroscope.Config{
		ApplicationName: o.AppName,
		ServerAddress:   o.ServerAddress,
		TenantID:        o.TenantID,
		Tags:            maps.Clone(o.Tags),
		ProfileTypes:    profileTypes(o),
	}, nil
}

// Start begins profiling when enabled and returns an idempotent stop. The
// logger comes from ctx. A disabled profiler returns a no-op stop.
func Start(ctx context.Context, o Options) (func(), error) {
	L := log.FromContext(ctx)
	report := func(active bool) {
		if o.OnActive != nil {
			o.OnActive(active)
		}
	}

	if !o.Enabled {
		L.Info(ctx, "pyroscope disabled")
		report(false)
		return func() {}, nil
	}

	cfg, err := config(o)
	if err != nil {
		L.Error(ctx, err, "pyroscope options")
		report(false)
		return func() {}, err
	}

	if o.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(o.MutexProfileFraction)
	}
	if o.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(o.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		err = xerrors.Wrap(err, "start pyroscope")
		L.Error(ctx, err, "pyroscope start failed", "server_address", o.ServerAddress)
		report(false)
		return func() {}, err
	}
	L.Info(ctx, "pyroscope started", "server_address", o.ServerAddress, "app_name", o.AppName)
	report(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Warn(context.Background(), "pyroscope stop", "error", err)
			}
			report(false)
			L.Info(context.Background(), "pyroscope stopped")
		})
	}, nil
}
