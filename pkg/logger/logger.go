// Package logger builds the zap loggers used across the match engine and
// carries them through contexts.
package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger. json selects the JSON encoder, debug lowers the level
// to DEBUG.
func New(json bool, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}

	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "msg",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			NameKey: "logger",

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,

			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or fallback when none is attached.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return OrNop(fallback)
}

// RequestIDKey is the field key for request tracing.
const RequestIDKey = "request_id"

// Match engine field helpers.
func StudentID(id string) zap.Field     { return zap.String("student_id", id) }
func Mode(mode string) zap.Field        { return zap.String("mode", mode) }
func CacheKey(key string) zap.Field     { return zap.String("cache_key", key) }
func CatalogVersion(v string) zap.Field { return zap.String("catalog_version", v) }
func RequestID(id string) zap.Field     { return zap.String(RequestIDKey, id) }
func Component(name string) zap.Field   { return zap.String("component", name) }
func Operation(name string) zap.Field   { return zap.String("operation", name) }
func Latency(d time.Duration) zap.Field { return zap.Duration("latency", d) }
