package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileConfig controls the optional rotating log file.
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var logOutput io.Writer = os.Stdout

// NewLogger creates a structured JSON logger.
// Log format: structured JSON to stdout (and the log file, when configured).
// Production default: info. Set via YPOOL_LOG_LEVEL env var.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, parseLogLevel(os.Getenv("YPOOL_LOG_LEVEL")))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(logOutput).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// EnableFileOutput tees every logger created afterwards into a rotating file.
// Call once at startup before components build their loggers.
func EnableFileOutput(cfg LogFileConfig) io.Closer {
	if cfg.Path == "" {
		return nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	logOutput = zerolog.MultiLevelWriter(os.Stdout, file)
	return file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
