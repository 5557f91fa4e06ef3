package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var zlog = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the process-wide logger. Development gets the pretty console
// writer, every other environment gets JSON lines.
func Init(env string) {
	var w io.Writer

	if env == "development" || env == "dev" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		w = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zlog = zerolog.New(w).With().
		Timestamp().
		Str("service", "medconsult-backend").
		Logger()
}

// Get returns the process-wide logger.
func Get() zerolog.Logger {
	return zlog
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return zlog.With().Str("component", name).Logger()
}

// WithActor returns a child logger tagged with the acting user's id.
func WithActor(l zerolog.Logger, actorID string) zerolog.Logger {
	return l.With().Str("actor_id", actorID).Logger()
}
