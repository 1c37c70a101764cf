package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Packages derive child loggers
// from it rather than constructing their own zerolog instances.
var Logger zerolog.Logger

// Level names a log severity as it appears in config files.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global logger. Call it once from main before any
// package logs. Unknown or empty levels fall back to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).With().Timestamp().Logger()
}

func child(key, value string) zerolog.Logger {
	return Logger.With().Str(key, value).Logger()
}

// WithComponent returns a child logger tagged with a subsystem name.
// Every long-lived component takes one at construction.
func WithComponent(component string) zerolog.Logger { return child("component", component) }

// WithTaskID returns a child logger tagged with one task's id.
func WithTaskID(taskID string) zerolog.Logger { return child("task_id", taskID) }

// WithHost returns a child logger tagged with a host id.
func WithHost(hostID string) zerolog.Logger { return child("host_id", hostID) }

// WithQueue returns a child logger tagged with a stream name.
func WithQueue(queue string) zerolog.Logger { return child("queue", queue) }

// WithProxy returns a child logger tagged with a proxy id.
func WithProxy(proxyID string) zerolog.Logger { return child("proxy_id", proxyID) }

// Package-level helpers for call sites that have no component logger.

func Debug(msg string) { Logger.Debug().Msg(msg) }
func Info(msg string)  { Logger.Info().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }
func Fatal(msg string) { Logger.Fatal().Msg(msg) }
