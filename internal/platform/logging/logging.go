// Package logging builds the process logger and carries per-call loggers
// through context.
//
//	logger := logging.New("info", "json", os.Stderr,
//	    logging.WithRedactFields(cfg.Log.RedactFields...),
//	    logging.WithAttrs(slog.String("service", "actionbus")),
//	)
//
// The HTTP bridge and the bus adapters store an enriched logger on each call's
// context; the dispatcher and the actions read it back:
//
//	ctx = logging.WithLogger(ctx, logger.With("request_id", id))
//	logger = logging.FromContextOr(ctx, fallback)
//
// Failed actions are logged once, by the dispatcher, with the operation, the
// action address and the full error chain:
//
//	logger.ErrorContext(ctx, "action failed",
//	    slog.String("operation", "Dispatch"),
//	    slog.String("address", "order:create"),
//	    slog.Any("error", err),
//	)
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// contextKey is the unexported key type for storing loggers in context.
type contextKey struct{}

// Option configures New.
type Option func(*options)

type options struct {
	redactFields []string
	attrs        []slog.Attr
}

// WithRedactFields masks additional attribute names, typically action
// arguments that carry personal data. Names are matched case-insensitively.
func WithRedactFields(names ...string) Option {
	return func(o *options) {
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				o.redactFields = append(o.redactFields, strings.ToLower(n))
			}
		}
	}
}

// WithAttrs attaches attrs to every record the logger emits.
func WithAttrs(attrs ...slog.Attr) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

// New creates a configured *slog.Logger.
//
// level is one of "debug", "info", "warn" or "error", case-insensitive;
// anything else means info. Debug also records the source location.
// format "text" selects slog.TextHandler and any other value JSON.
func New(level, format string, w io.Writer, opts ...Option) *slog.Logger {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	lvl := parseLevel(level)
	hopts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: newRedactAttr(o.redactFields),
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, hopts)
	} else {
		handler = slog.NewJSONHandler(w, hopts)
	}
	if len(o.attrs) > 0 {
		handler = handler.WithAttrs(o.attrs)
	}

	return slog.New(handler)
}

// WithLogger returns a new context with the given logger stored in it.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts a *slog.Logger from the context.
// If no logger is stored, it returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// FromContextOr extracts a *slog.Logger from the context, falling back to
// fallback when none is stored. A nil fallback behaves like FromContext.
func FromContextOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
