// Package logging builds the zap loggers used across the portal.
package logging

import (
	"fmt"
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component logger names.
const (
	WS      = "ws"
	API     = "api"
	Session = "session"
	Contact = "contact"
	Watch   = "watch"
	HTTP    = "http"
)

// Options select the logger configuration.
type Options struct {
	Debug bool

	// Console switches from JSON to the human readable encoder.
	Console bool
}

// New builds a production logger, at debug level when opts.Debug is set.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if opts.Console {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.DisableStacktrace = !opts.Debug

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Named returns the child logger for a component.
func Named(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(component)
}

// StdLog adapts l for APIs that take a *log.Logger, such as
// http.Server.ErrorLog. Lines are logged at warn level.
func StdLog(l *zap.Logger) *log.Logger {
	std, err := zap.NewStdLogAt(l, zapcore.WarnLevel)
	if err != nil {
		return zap.NewStdLog(l)
	}
	return std
}
