// Package logging builds the zap loggers shared by the archiver CLI, the
// pipeline engine, and every plugin.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger profile. Development switches to the console
// encoder with colored levels; Level overrides the profile's default
// verbosity ("debug", "info", "warn", "error").
type Config struct {
	Development bool
	Level       string
}

// New builds the archiver logger from cfg. All loggers derived from it
// carry the "archiver" name so pipeline output is attributable when the
// ops API or a headless browser logs alongside it.
func New(cfg Config) (*zap.Logger, error) {
	base := zap.NewProductionConfig()
	base.DisableStacktrace = false
	if cfg.Development {
		base = zap.NewDevelopmentConfig()
		base.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	base.EncoderConfig.TimeKey = "ts"

	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		base.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := base.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("archiver"), nil
}
