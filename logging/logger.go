// Package logging provides a tiny abstraction so downstream packages depend
// on a minimal interface while callers plug in any structured logger.
// Adapters for log/slog and rs/zerolog are included; libraries default to
// NoOpLogger so they carry no logging policy of their own.
package logging

import (
	"log/slog"

	"github.com/rs/zerolog"
)

// Logger is the minimal logging interface used across AgentGrid. Arguments
// follow the slog convention of alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoOpLogger discards all log messages. Useful for tests or when logging is
// disabled.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}

// SlogAdapter wraps *slog.Logger to implement Logger.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger { return &SlogAdapter{Logger: logger} }

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// ZerologAdapter wraps a zerolog.Logger to implement Logger. Key/value pairs
// are attached as fields; a trailing odd argument is attached under "arg".
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger from a zerolog.Logger.
func NewZerologAdapter(logger zerolog.Logger) Logger { return &ZerologAdapter{logger: logger} }

func fields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, len(args)/2+1)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "arg"
		}
		m[key] = args[i+1]
	}
	if len(args)%2 == 1 {
		m["arg"] = args[len(args)-1]
	}
	return m
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) {
	z.logger.Debug().Fields(fields(args)).Msg(msg)
}

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) {
	z.logger.Info().Fields(fields(args)).Msg(msg)
}

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) {
	z.logger.Warn().Fields(fields(args)).Msg(msg)
}

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) {
	z.logger.Error().Fields(fields(args)).Msg(msg)
}
