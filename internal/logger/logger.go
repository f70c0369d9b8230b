package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup initializes the global zerolog logger based on environment configuration.
//   - level: log level string (trace, debug, info, warn, error, fatal, panic)
//   - format: "json" for production, "pretty" for human-readable dev output
//
// Returns the configured logger instance.
func Setup(level, format string) zerolog.Logger {
	lvl := parseLevel(level)
	zerolog.SetGlobalLevel(lvl)
	return New(os.Stdout, lvl, format).With().Caller().Logger()
}

// New builds a timestamped logger writing to w without touching global state.
func New(w io.Writer, lvl zerolog.Level, format string) zerolog.Logger {
	var writer io.Writer = w
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}

// ExamLog returns the per-attempt child logger: every line carries the
// interaction, student and assessment version.
func ExamLog(log zerolog.Logger, interactionID, studentID, version string) zerolog.Logger {
	return log.With().
		Str("interaction", interactionID).
		Str("student", studentID).
		Str("assessment", version).
		Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
