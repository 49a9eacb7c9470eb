package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Option customises the logging setup.
type Option func(*options)

type options struct {
	output io.Writer
}

// WithRotatingFile mirrors log output into a size-rotated file alongside
// stdout. maxSizeMB bounds each file before rotation; rotated files are
// compressed and at most maxBackups are retained.
func WithRotatingFile(path string, maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		if strings.TrimSpace(path) == "" {
			return
		}
		if maxSizeMB <= 0 {
			maxSizeMB = 100
		}
		if maxBackups <= 0 {
			maxBackups = 5
		}
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		}
		o.output = io.MultiWriter(os.Stdout, rotator)
	}
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	resolved := options{output: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}

	handler := slog.NewJSONHandler(resolved.output, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
