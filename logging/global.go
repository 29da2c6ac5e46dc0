// Package logging wraps log/slog behind package-level helpers so every package logs
// through the same configured handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/giygas/drug-registry/config"
)

type LoggingService struct {
	Logger *slog.Logger
}

var DefaultLoggingService *LoggingService

// InitLogger initializes the global logger instance from the configuration
func InitLogger(cfg *config.Config) {
	level := GetConsoleLogLevel(cfg.Env, cfg.LogLevel, cfg.Verbose)
	DefaultLoggingService = &LoggingService{
		Logger: NewLogger(os.Stdout, cfg.Env, level),
	}
	slog.SetDefault(DefaultLoggingService.Logger)
}

// NewLogger builds a text logger for interactive environments and a JSON logger for
// staging and production, where output is shipped to a collector.
func NewLogger(w io.Writer, env config.Environment, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	switch env {
	case config.EnvProduction, config.EnvStaging:
		return slog.New(slog.NewJSONHandler(w, opts))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

// GetConsoleLogLevel resolves the effective level. Tests stay quiet unless verbose,
// and ignore LOG_LEVEL overrides.
func GetConsoleLogLevel(env config.Environment, logLevel string, verbose bool) slog.Level {
	if env == config.EnvTest {
		if verbose {
			return slog.LevelInfo
		}
		return slog.LevelError
	}

	if logLevel != "" {
		return parseLogLevel(logLevel)
	}

	switch env {
	case config.EnvProduction, config.EnvStaging:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// current returns the configured logger, or a stderr fallback before InitLogger ran.
func current(level slog.Level) *slog.Logger {
	if DefaultLoggingService == nil || DefaultLoggingService.Logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	}
	return DefaultLoggingService.Logger
}

// Package-level functions for direct access

func Info(msg string, args ...any) {
	current(slog.LevelInfo).Info(msg, args...)
}

func Error(msg string, args ...any) {
	current(slog.LevelError).Error(msg, args...)
}

func Warn(msg string, args ...any) {
	current(slog.LevelWarn).Warn(msg, args...)
}

func Debug(msg string, args ...any) {
	current(slog.LevelDebug).Debug(msg, args...)
}

// With returns a logger carrying the given attributes, e.g. a component name.
func With(args ...any) *slog.Logger {
	return current(slog.LevelInfo).With(args...)
}
