package observability

import (
	"context"
	"log/slog"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg, _ := current()
	return cfg.Enabled
}

// StartSpan records a lightweight span around an operation. The returned
// func must be called exactly once with the operation's error.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg, metrics := current()
	if !cfg.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
			slog.String("component", component),
			slog.String("operation", operation),
		)
	}

	return ctx, func(err error) {
		elapsed := time.Since(start)
		metrics.observeSpan(component, operation, err, elapsed)
		if logger == nil {
			return
		}

		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}
