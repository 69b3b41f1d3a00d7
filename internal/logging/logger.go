// Package logging builds the logr.Logger used across the hook.
package logging

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/config"
)

// New creates a zap-backed logr.Logger writing console-encoded lines to w.
// Level is one of debug, info, warn, error, or a logr verbosity number.
func New(cfg config.LoggingConfig, w io.Writer) (logr.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return logr.Discard(), err
	}

	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zap.NewAtomicLevelAt(level))

	var opts []zap.Option
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}
	return zapr.NewLogger(zap.New(core, opts...)), nil
}

// ParseLevel maps a level name to a zap level. Numbers are logr verbosities,
// so "2" enables V(2) and below.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return zapcore.InfoLevel, fmt.Errorf("logging: invalid level %q", s)
	}
	return zapcore.Level(-v), nil
}
