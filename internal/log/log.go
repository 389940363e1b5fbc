// Package log provides structured logging for nodereg.
//
// Logs go to stderr so that stdout carries only command results.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the system.
var (
	Ledger     zerolog.Logger
	Registry   zerolog.Logger
	Governance zerolog.Logger
	Resolver   zerolog.Logger
	Access     zerolog.Logger
	Wallet     zerolog.Logger
	Journal    zerolog.Logger
	Devnet     zerolog.Logger
	CLI        zerolog.Logger
)

// Rotation limits for the log file.
const (
	fileMaxSizeMB  = 50
	fileMaxBackups = 5
	fileMaxAgeDays = 28
)

var output io.Writer = os.Stderr

func init() {
	Logger = NewConsoleLogger(output, "info")
	initComponentLoggers()
}

// Init initializes the logger with the given configuration.
// When file is non-empty, logs are written to both the console (colored or
// JSON depending on jsonOutput) and a rotating file (always JSON).
func Init(level string, jsonOutput bool, file string) error {
	return InitWithFields(level, jsonOutput, file, nil)
}

// InitWithFields is Init with extra fields attached to every log line.
func InitWithFields(level string, jsonOutput bool, file string, fields map[string]string) error {
	lvl := parseLevel(level)

	var console io.Writer = output
	if !jsonOutput {
		console = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	w := console
	if file != "" {
		roller := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
			MaxAge:     fileMaxAgeDays,
		}
		w = zerolog.MultiLevelWriter(console, roller)
	}

	ctx := zerolog.New(w).Level(lvl).With().Timestamp()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	Logger = ctx.Logger()

	initComponentLoggers()
	return nil
}

// SetOutput redirects console output. Tests use it to capture or silence logs.
func SetOutput(w io.Writer) {
	output = w
	Logger = NewConsoleLogger(w, Logger.GetLevel().String())
	initComponentLoggers()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(out).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// parseLevel converts a string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether level is one Init understands.
func ValidLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error", "disabled", "off":
		return true
	}
	return false
}

func initComponentLoggers() {
	Ledger = WithComponent("ledger")
	Registry = WithComponent("registry")
	Governance = WithComponent("governance")
	Resolver = WithComponent("resolver")
	Access = WithComponent("access")
	Wallet = WithComponent("wallet")
	Journal = WithComponent("journal")
	Devnet = WithComponent("devnet")
	CLI = WithComponent("cli")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Benchmark returns a func that logs the time elapsed since the call at
// debug level.
func Benchmark(name string) func() {
	start := time.Now()
	return func() {
		Logger.Debug().
			Str("operation", name).
			Dur("duration", time.Since(start)).
			Msg("benchmark")
	}
}
