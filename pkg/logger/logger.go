package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger at the given level. Unknown level
// strings fall back to info.
func New(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
