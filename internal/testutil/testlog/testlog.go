package testlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start routes log output through the test runner and returns a logger for
// components that take one explicitly.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	log.Logger = logger
	logger.Info().Str("test", t.Name()).Send()
	return logger
}
