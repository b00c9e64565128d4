package observability

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger returns the service-wide zerolog logger.
func NewLogger(serviceName string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
