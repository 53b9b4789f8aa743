// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"example.com/tracker/internal/config"
)

// New returns a logger configured for env: a console writer at debug level for
// local runs and JSON on stdout elsewhere.
func New(env, service string) zerolog.Logger {
	return NewWithWriter(env, service, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(env, service string, out io.Writer) zerolog.Logger {
	zerolog.TimestampFieldName = "timestamp"

	level := zerolog.InfoLevel
	w := out
	switch env {
	case config.EnvLocal:
		level = zerolog.DebugLevel
		console := zerolog.NewConsoleWriter()
		console.TimeFormat = time.DateTime
		console.Out = out
		w = console
	case config.EnvDev:
		level = zerolog.DebugLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Int("pid", os.Getpid()).
		Logger()
}
