// Package logging constructs the process-wide zap logger from
// config.LogConfig.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/syncclock/timingsvc/internal/config"
)

// New builds a *zap.Logger per cfg. Level is parsed case-insensitively
// ("debug", "info", "warn", "error"); an unrecognized level falls back
// to info. JSON selects the production encoder; otherwise a
// human-readable console encoder is used, suited to local development.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.JSON {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
