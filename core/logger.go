package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogger is the zap-backed logger used when none is configured
type DefaultLogger struct {
	logger *zap.SugaredLogger
}

// NewDefaultLogger creates a logger suited to env: console output in
// development, JSON in production
func NewDefaultLogger(env Env) *DefaultLogger {
	var cfg zap.Config
	if env.IsProd() {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}

	return NewZapLogger(l)
}

// NewZapLogger wraps an existing zap logger
func NewZapLogger(l *zap.Logger) *DefaultLogger {
	return &DefaultLogger{
		logger: l.Named("beaconauth").Sugar(),
	}
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debugw(msg, fields...)
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.logger.Infow(msg, fields...)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warnw(msg, fields...)
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.logger.Errorw(msg, fields...)
}

// Sync flushes buffered entries
func (l *DefaultLogger) Sync() error {
	return l.logger.Sync()
}

// NoopLogger is a logger that does nothing
type NoopLogger struct{}

// NewNoopLogger creates a new noop logger
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// Debug does nothing
func (l *NoopLogger) Debug(msg string, fields ...interface{}) {}

// Info does nothing
func (l *NoopLogger) Info(msg string, fields ...interface{}) {}

// Warn does nothing
func (l *NoopLogger) Warn(msg string, fields ...interface{}) {}

// Error does nothing
func (l *NoopLogger) Error(msg string, fields ...interface{}) {}
