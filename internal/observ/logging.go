package observ

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. SetupLogging replaces it;
// the default writes JSON to stderr at info level so tests get sane output
// without any setup.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// SetupLogging configures the global logger. Level is one of
// debug|info|warn|error (default info). When console is true, output is
// human-readable instead of JSON.
func SetupLogging(level string, console bool) {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = os.Stderr
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	Logger = zerolog.New(w).With().Timestamp().Logger()
}

// With returns a child logger tagged with a component name.
func With(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// Uptime reports time since process start, for the health endpoint.
func Uptime() time.Duration {
	return time.Since(startTime)
}

var startTime = time.Now()
