package logger

import (
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// gooseLogger routes goose migration output through zerolog
type gooseLogger struct {
	logger zerolog.Logger
}

// NewGooseLogger adapts a zerolog logger to goose's logger interface
func NewGooseLogger(log zerolog.Logger) goose.Logger {
	return &gooseLogger{logger: log.With().Str("component", "migrations").Logger()}
}

func (g *gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Fatal().Msgf(strings.TrimSpace(format), v...)
}

func (g *gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}
