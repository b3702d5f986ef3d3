// Package logging provides the structured, leveled logger used across the
// service, backed by github.com/rs/zerolog and tuned by the [logging]
// level/format/correlation_tracking configuration knobs.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a per-component structured logger.
type Logger struct {
	zl        zerolog.Logger
	component string
	correlate bool
}

// New builds a Logger for component, writing at level ("debug", "info",
// "warn", "error") in format ("json" or "text"). When correlate is true,
// WithCorrelationID attaches a correlation_id field to every line emitted
// through the returned child logger.
func New(component, level, format string, correlate bool) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(format, "text") {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(w).With().Timestamp().Str("component", component).Logger().Level(parseLevel(level))

	return &Logger{zl: zl, component: component, correlate: correlate}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithCorrelationID returns a child logger that stamps every line with
// id, when correlation_tracking is enabled in configuration. Otherwise it
// returns the receiver unchanged.
func (l *Logger) WithCorrelationID(id string) *Logger {
	if !l.correlate {
		return l
	}
	return &Logger{zl: l.zl.With().Str("correlation_id", id).Logger(), component: l.component, correlate: l.correlate}
}

// Debugf logs at debug level with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }

// Infof logs at info level with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) { l.zl.Info().Msgf(format, args...) }

// Warnf logs at warn level with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) { l.zl.Warn().Msgf(format, args...) }

// Errorf logs at error level with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }

// WithErr attaches err to the next log line.
func (l *Logger) WithErr(err error) *zerolog.Event { return l.zl.Error().Err(err) }
