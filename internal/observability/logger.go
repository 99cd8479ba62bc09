package observability

import (
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the process logger and installs it as the global one.
// Interactive terminals get the console format; everything else gets JSON
// lines. GUPPY_LOG_LEVEL overrides the default info level.
func InitLogger(app string) zerolog.Logger {
	var logger zerolog.Logger
	if isatty.IsTerminal(os.Stderr.Fd()) {
		output := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stderr)
	}
	logger = logger.Level(logLevel()).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

func logLevel() zerolog.Level {
	raw := strings.TrimSpace(os.Getenv("GUPPY_LOG_LEVEL"))
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
