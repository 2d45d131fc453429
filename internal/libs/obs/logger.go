package obs

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is stamped on every log line
const ServiceName = "vidsearch"

// InitLogger initializes the global logger
func InitLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	var out io.Writer = os.Stderr
	// Pretty print in development
	if os.Getenv("ENV") == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = newBase(out)
}

// Logger returns a new logger with the given component name
func Logger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// LoggerTo returns a component logger writing to w instead of the global sink
func LoggerTo(w io.Writer, component string) zerolog.Logger {
	return newBase(w).With().Str("component", component).Logger()
}

func newBase(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("service", ServiceName).Logger()
}
