package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Must is New for main packages.
func Must(level string) *zap.Logger {
	l, err := New(level)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return l
}
