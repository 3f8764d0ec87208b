// Package logger is a thin process-wide wrapper around zap.
package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base        atomic.Pointer[zap.SugaredLogger]
	serviceName = "autotrade-core"
)

func init() {
	base.Store(zap.NewNop().Sugar())
}

// Init builds a production JSON logger at the given level ("debug", "info", "warn", "error").
// Until Init is called every log call is a no-op, which keeps tests quiet.
func Init(level string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("parse log level %q: %w", level, err)
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	base.Store(l.Sugar().With("service", serviceName))
	return nil
}

// Replace swaps the global logger (tests use zaptest/observer loggers here).
func Replace(l *zap.Logger) {
	base.Store(l.Sugar())
}

// Sync flushes buffered entries.
func Sync() {
	_ = base.Load().Sync()
}

// With returns a child logger carrying structured fields, e.g. With("user", id, "market", m).
func With(kv ...interface{}) *zap.SugaredLogger {
	return base.Load().Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(kv...)
}

func Debugf(format string, args ...interface{}) { base.Load().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { base.Load().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base.Load().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Load().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { base.Load().Fatalf(format, args...) }
