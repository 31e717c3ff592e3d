// Package log is the structured logger used across the service. It wraps
// log/slog and adds trace correlation, error chains and stack capture.
package log

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/keithlinneman/linnemanlabs-echo/internal/xerrors"
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
	// App, Version, Commit and BuildId are attached to every record.
	App     string
	Version string
	Commit  string
	BuildId string

	Level slog.Level
	// StacktraceLevel is the lowest level that gets a "stack" attr.
	// Nil means slog.LevelError.
	StacktraceLevel slog.Leveler

	JsonFormat        bool
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to os.Stdout
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel accepts debug|info|warn|warning|error, case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, xerrors.Newf("unknown log level %q (valid levels are debug|info|warn|error)", s)
	}
}
