// Package xerrors adds call-site information to errors without changing
// their messages. Errors built here still work with errors.Is and errors.As.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the full call stack captured when the error was created.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// wrapped carries a message prefix and the single frame that added it.
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error     { return w.err }
func (w *wrapped) PC() uintptr       { return w.pc }
func (w *wrapped) IsXerrorsWrapper() {}

// callers skips runtime.Callers, this function and skip more frames.
func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func stack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: callers(skip + 1)}
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return stack(errors.New(msg), 1) }

// Newf is New with fmt formatting. %w verbs are honored.
func Newf(format string, args ...any) error { return stack(fmt.Errorf(format, args...), 1) }

// WithStack attaches the caller's stack to err. Returns nil for nil.
func WithStack(err error) error { return stack(err, 1) }

// EnsureTrace is WithStack, unless something in err's chain already has a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return stack(err, 1)
}

// Wrap prefixes err with msg and records the calling frame. Returns nil for nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: caller(1)}
}

// Wrapf is Wrap with fmt formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}
