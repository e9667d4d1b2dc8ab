// Package logger provides structured logging for docbase
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with docbase-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "docbase").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// TxnLogger returns a logger for transaction-manager events.
func (l *Logger) TxnLogger() *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "txn").
			Logger(),
	}
}

// StorageLogger returns a logger for pager/cache/WAL events.
func (l *Logger) StorageLogger() *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "storage").
			Logger(),
	}
}

// LogCommit logs a completed transaction commit.
func (l *Logger) LogCommit(commitID uint64, duration time.Duration, pagesWritten int) {
	l.zlog.Debug().
		Str("event", "commit").
		Uint64("commit_id", commitID).
		Dur("duration_ms", duration).
		Int("pages_written", pagesWritten).
		Msg("transaction committed")
}

// LogRebase logs a transaction that had to replay its op log against a
// newer root before committing.
func (l *Logger) LogRebase(opCount int, err error) {
	event := l.zlog.Warn().
		Str("event", "rebase").
		Int("op_count", opCount)
	if err != nil {
		event.Err(err).Msg("transaction rebase failed")
		return
	}
	event.Msg("transaction rebased onto newer snapshot")
}

// LogCheckpoint logs a WAL checkpoint attempt.
func (l *Logger) LogCheckpoint(framesFolded int, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("event", "checkpoint").
		Int("frames_folded", framesFolded).
		Dur("duration_ms", duration)
	if err != nil {
		l.zlog.Warn().
			Str("event", "checkpoint").
			Dur("duration_ms", duration).
			Err(err).
			Msg("checkpoint failed")
		return
	}
	event.Msg("checkpoint completed")
}

// LogRecovery logs WAL recovery performed during Open.
func (l *Logger) LogRecovery(framesReplayed int, duration time.Duration) {
	l.zlog.Info().
		Str("event", "recovery").
		Int("frames_replayed", framesReplayed).
		Dur("duration_ms", duration).
		Msg("WAL recovery completed")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
