// Package logging configures the process-wide zerolog setup.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel  = "TRADEPOST_LOG_LEVEL"
	EnvLogPretty = "TRADEPOST_LOG_PRETTY"
)

// New returns the root logger for a component. Level defaults to info;
// override with TRADEPOST_LOG_LEVEL. TRADEPOST_LOG_PRETTY=1 switches to the
// human console writer for local runs.
func New(component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if pretty(os.Getenv(EnvLogPretty)) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly})
	}
	return logger.Level(level).With().Timestamp().Str("component", component).Logger()
}

func pretty(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
