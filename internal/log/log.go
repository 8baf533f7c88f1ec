// Package log is the structured logger used across the service. It wraps
// log/slog, takes a context on every call so trace ids can be attached, and
// gives errors their own argument so chains and stacks are always rendered.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string
	BuildId string
	Level   slog.Level
	// StacktraceLevel is the lowest level that gets a "stack" attribute.
	// Zero means slog.LevelError.
	StacktraceLevel   slog.Level
	JsonFormat        bool
	MaxErrorLinks     int
	IncludeErrorLinks bool
	Writer            io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name (any case, "warning" accepted) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("log: level %q not one of debug|info|warn|error", s)
}
