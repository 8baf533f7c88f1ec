package prof

import (
	"context"
	"testing"

	"github.com/grafana/pyroscope-go"
)

func TestStart_Disabled(t *testing.T) {
	var active []bool
	stop, err := Start(context.Background(), Options{
		Enabled:       false,
		ServerAddress: "::not a url::",
		OnActive:      func(a bool) { active = append(active, a) },
	})
	if err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	stop()
	stop()
	if len(active) != 1 || active[0] {
		t.Fatalf("OnActive calls = %v, want [false]", active)
	}
}

func TestStart_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no server", Options{Enabled: true, AppName: "vitesheet"}},
		{"no app name", Options{Enabled: true, ServerAddress: "http://127.0.0.1:4040"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reported bool
			tt.opts.OnActive = func(a bool) { reported = !a }
			stop, err := Start(context.Background(), tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if stop == nil {
				t.Fatal("stop must never be nil")
			}
			stop()
			if !reported {
				t.Fatal("inactive state not reported")
			}
		})
	}
}

func TestStart_UnreachableServer(t *testing.T) {
	var last bool
	stop, err := Start(context.Background(), Options{
		Enabled:       true,
		AppName:       "vitesheet.test",
		ServerAddress: "http://127.0.0.1:1",
		OnActive:      func(a bool) { last = a },
	})
	if err != nil {
		// uploads are async, an error here is only from config
		t.Fatalf("Start: %v", err)
	}
	if !last {
		t.Fatal("active not reported")
	}
	stop()
	stop()
	if last {
		t.Fatal("stop did not report inactive")
	}
}

func TestProfileTypes(t *testing.T) {
	has := func(types []pyroscope.ProfileType, want pyroscope.ProfileType) bool {
		for _, p := range types {
			if p == want {
				return true
			}
		}
		return false
	}

	base := profileTypes(Options{})
	if len(base) != len(baseProfiles) || has(base, pyroscope.ProfileMutexCount) || has(base, pyroscope.ProfileBlockCount) {
		t.Fatalf("base types = %v", base)
	}
	all := profileTypes(Options{MutexProfileFraction: 5, BlockProfileRate: 1})
	for _, want := range []pyroscope.ProfileType{pyroscope.ProfileMutexDuration, pyroscope.ProfileBlockDuration, pyroscope.ProfileCPU} {
		if !has(all, want) {
			t.Errorf("missing %s", want)
		}
	}
}

func TestConfig_CopiesTags(t *testing.T) {
	tags := map[string]string{"version": "v1"}
	cfg, err := config(Options{AppName: "a", ServerAddress: "http://x", Tags: tags})
	if err != nil {
		t.Fatal(err)
	}
	cfg.Tags["version"] = "mutated"
	if tags["version"] != "v1" {
		t.Fatal("caller tags mutated")
	}
}
