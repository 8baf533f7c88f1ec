package xerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			return false
		}
	}
}

func stackOf(t *testing.T, err error) []uintptr {
	t.Helper()
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatalf("%v has no stack", err)
	}
	return hs.StackPCs()
}

func TestNew(t *testing.T) {
	err := New("something broke")
	if err.Error() != "something broke" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !stackContains(stackOf(t, err), "TestNew") {
		t.Fatal("stack should contain the calling test")
	}
}

func TestNewf(t *testing.T) {
	err := Newf("invalid port %d for %s", 99999, "server")
	if want := "invalid port 99999 for server"; err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if len(stackOf(t, err)) == 0 {
		t.Fatal("stack should be non-empty")
	}
}

func TestNewf_WrapVerb(t *testing.T) {
	err := Newf("load: %w", errSentinel)
	if !errors.Is(err, errSentinel) {
		t.Fatal("Newf with %w should match sentinel")
	}
}

func TestWrap(t *testing.T) {
	err := Wrap(errSentinel, "open bundle")
	if err.Error() != "open bundle: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("Wrap should preserve errors.Is")
	}

	hp, ok := err.(interface{ PC() uintptr })
	if !ok || hp.PC() == 0 {
		t.Fatal("Wrap should record a caller PC")
	}
	fn := runtime.FuncForPC(hp.PC())
	if fn == nil || !strings.Contains(fn.Name(), "TestWrap") {
		t.Fatalf("PC points at %v, want TestWrap", fn)
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(errSentinel, "get %s/%s", "bucket", "key")
	if err.Error() != "get bucket/key: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("Wrapf should preserve errors.Is")
	}
}

func TestNilPassthrough(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestWithStack(t *testing.T) {
	err := WithStack(errSentinel)
	if err.Error() != "sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("WithStack should preserve errors.Is")
	}
	if !stackContains(stackOf(t, err), "TestWithStack") {
		t.Fatal("stack should contain the calling test")
	}
}

func TestEnsureTrace_AddsWhenMissing(t *testing.T) {
	err := EnsureTrace(fmt.Errorf("plain"))
	if len(stackOf(t, err)) == 0 {
		t.Fatal("EnsureTrace should add a stack")
	}
}

func TestEnsureTrace_KeepsExisting(t *testing.T) {
	orig := New("has stack")
	wrapped := Wrap(orig, "outer")
	if got := EnsureTrace(wrapped); got != wrapped {
		t.Fatal("EnsureTrace should return err unchanged when a stack exists in the chain")
	}
}

type codeErr struct{ code int }

func (c *codeErr) Error() string { return fmt.Sprintf("code %d", c.code) }

func TestErrorsAs_ThroughLayers(t *testing.T) {
	err := Wrap(WithStack(Wrapf(&codeErr{code: 7}, "inner")), "outer")
	var ce *codeErr
	if !errors.As(err, &ce) {
		t.Fatal("errors.As should find codeErr through wrappers")
	}
	if ce.code != 7 {
		t.Fatalf("code = %d, want 7", ce.code)
	}
}
