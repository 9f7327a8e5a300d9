// Package logging builds the zap loggers used across the pipeline.
// Console output goes to stderr; a full debug log is kept under
// <output>/logs/run.log for post-run inspection.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Categories used as named child loggers.
const (
	CategoryClient   = "client"
	CategoryPipeline = "pipeline"
	CategoryRules    = "rules"
	CategoryReport   = "report"
	CategoryStore    = "store"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Setup builds the process-wide logger. outputDir may be empty, in which
// case only the console core is installed. level is one of debug, info,
// warn, error.
func Setup(outputDir, level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "", "info":
		lvl = zapcore.InfoLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEnc),
			zapcore.Lock(os.Stderr),
			lvl,
		),
	}

	if outputDir != "" {
		logsDir := filepath.Join(outputDir, "logs")
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create logs directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logsDir, "run.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			zapcore.DebugLevel,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...))

	mu.Lock()
	root = logger
	mu.Unlock()
	return logger, nil
}

// Get returns a named child of the process logger. Safe to call before
// Setup; the result is then a no-op logger.
func Get(category string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(category)
}

// Sync flushes buffered log entries. Stderr sync errors are ignored.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
