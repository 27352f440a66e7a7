package utils

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logging handle. All methods are safe on a
// nil receiver so call sites can keep the plain `if x != nil` style out
// of hot paths.
type Logger struct {
	zl zerolog.Logger
}

func NewLogger() *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if lvl := strings.ToLower(strings.TrimSpace(os.Getenv("FATHOM_LOG_LEVEL"))); lvl != "" {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil {
			zl = zl.Level(parsed)
		}
	}
	return &Logger{zl: zl}
}

func NewTestLogger() *Logger {
	return &Logger{zl: zerolog.New(os.Stderr).Level(zerolog.Disabled)}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.zl.Error().Msgf(format, args...)
}
