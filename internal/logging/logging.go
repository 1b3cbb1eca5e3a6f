package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"

	"dbmigrator/internal/config"
)

const defaultLevel = zerolog.InfoLevel

// NewLogger builds the zerolog logger described by cfg, writing to out.
func NewLogger(cfg config.Config, out io.Writer) (zerolog.Logger, zerolog.Level, error) {
	level := defaultLevel
	if cfg.Logging.Level != "" {
		l, err := zerolog.ParseLevel(cfg.LogLevel())
		if err != nil {
			return zerolog.Nop(), level, fmt.Errorf("failed to parse log level '%s': %w", cfg.Logging.Level, err)
		}
		level = l
	}

	if cfg.Logging.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).
		With().
		Timestamp().
		Logger().
		Level(level)

	return logger, level, nil
}

// Slog adapts a zerolog logger to the *slog.Logger used across the module.
func Slog(base zerolog.Logger, level zerolog.Level) *slog.Logger {
	translatedLevel := slog.LevelDebug
	for sl, zl := range slogzerolog.LogLevels {
		if zl == level {
			translatedLevel = sl
			break
		}
	}
	return slog.New(slogzerolog.Option{
		Level:  translatedLevel,
		Logger: &base,
	}.NewZerologHandler())
}

// New is NewLogger followed by Slog.
func New(cfg config.Config, out io.Writer) (*slog.Logger, error) {
	base, level, err := NewLogger(cfg, out)
	if err != nil {
		return nil, err
	}
	return Slog(base, level), nil
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return Slog(zerolog.Nop(), zerolog.Disabled)
}
