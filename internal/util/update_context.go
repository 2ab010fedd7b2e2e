package util

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

type updateContextKey string

const (
	updateIDCtxKey = updateContextKey("update_id")
	loggerCtxKey   = updateContextKey("logger")
)

// WithUpdateID tags ctx with a correlation id for one inbound update,
// generating one when id is blank. A child logger carrying "update_id" is
// stored alongside so downstream code can call LoggerFromContext.
func WithUpdateID(ctx context.Context, id string, base *slog.Logger) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewID()
	}
	if base == nil {
		base = slog.Default()
	}
	ctx = context.WithValue(ctx, updateIDCtxKey, id)
	return ContextWithLogger(ctx, base.With("update_id", id))
}

// UpdateIDFromContext returns the correlation id, or "" when absent.
func UpdateIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(updateIDCtxKey).(string)
	return id
}

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// LoggerFromContext returns the logger stored in ctx, falling back to
// slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerCtxKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

// LogUpdate emits one structured line per handled update.
func LogUpdate(ctx context.Context, kind string, userID int64, replies int, start time.Time) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "unknown"
	}
	LoggerFromContext(ctx).Info(
		"update_handled",
		"kind", kind,
		"user_id", userID,
		"replies", replies,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
