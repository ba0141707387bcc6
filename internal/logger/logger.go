// Package logger configures the process-wide zerolog logger. All diagnostics
// go to stderr: stdout is reserved for command output and batch NDJSON.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level     string // debug, info, warn, error
	Pretty    bool   // force the console writer even off a terminal
	Redaction bool   // strip API keys and tokens from log output
}

// DefaultConfig keeps normal CLI runs quiet; --verbose lowers the level.
func DefaultConfig() Config {
	return Config{
		Level:     "warn",
		Redaction: true,
	}
}

// Init builds the logger and installs it as the zerolog global.
func Init(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.WarnLevel
	}

	var writer io.Writer = os.Stderr
	if cfg.Pretty || isatty.IsTerminal(os.Stderr.Fd()) {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}
	if cfg.Redaction {
		writer = NewRedactor().Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger
	return logger
}
