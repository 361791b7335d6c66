package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// RequestIDKey carries the per-request id through a context.
	RequestIDKey contextKey = "request_id"
	// IdentityKey carries the resolved caller identity through a context.
	IdentityKey contextKey = "identity"
)

// ContextLogger decorates a zap logger with fields pulled from a
// request context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns the logger with request id and identity fields
// attached when the context carries them.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if identity, ok := ctx.Value(IdentityKey).(string); ok && identity != "" {
		fields = append(fields, zap.String("identity", identity))
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithError adds error to logger
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}

// LogRequest logs one finished HTTP request with its context fields.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMs int64) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
	)
}
