// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	level   *zapcore.Level
	outputs []string
}

// Option customizes New.
type Option func(*options)

// WithLevel overrides the minimum level.
func WithLevel(level zapcore.Level) Option {
	return func(o *options) { o.level = &level }
}

// WithOutputs sets the sink paths, e.g. "stderr" or a file path.
func WithOutputs(paths ...string) Option {
	return func(o *options) { o.outputs = paths }
}

// New builds a zap.Logger configured for development or production.
// Development loggers are colored console loggers on stderr; production
// loggers emit JSON.
func New(development bool, opts ...Option) (*zap.Logger, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if o.level != nil {
		cfg.Level = zap.NewAtomicLevelAt(*o.level)
	}
	if len(o.outputs) > 0 {
		cfg.OutputPaths = o.outputs
	}

	logger, err := cfg.Build()
	if err != nil {
		mode := "prod"
		if development {
			mode = "dev"
		}
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}
