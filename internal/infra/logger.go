package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages depend on the infra logging
// contract rather than on the third-party module.
type Logger = zerolog.Logger

// NewLogger builds the process logger. Development gets a console writer;
// every other environment emits JSON. level overrides the environment's
// default (debug in development, info elsewhere) when it parses.
func NewLogger(appEnv, level string) Logger {
	lvl := zerolog.InfoLevel
	if appEnv == "development" {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	var out io.Writer = os.Stdout
	if appEnv == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "archgen").
		Str("env", appEnv).
		Logger()
}

// NopLogger discards everything. Used where a component is built without one.
func NopLogger() Logger {
	return zerolog.New(io.Discard)
}
