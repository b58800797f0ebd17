package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Log is the package-global logger configured by Init.
var Log zerolog.Logger

// app is a sub-logger for reconciliation decisions. It may run more verbose
// than the general logger (e.g. debug decisions while the rest of the
// process logs at info).
var app zerolog.Logger

// ParseLevel maps a config level string to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global loggers. If logFilePath is non-empty, logs are
// written to both stdout and the file. generalLevel applies process-wide;
// appLevel applies only to the decision logger returned by App.
func Init(logFilePath, generalLevel, appLevel string) (func(), error) {
	zerolog.SetGlobalLevel(ParseLevel(generalLevel))

	writers := []io.Writer{os.Stdout}
	var f *os.File
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		var err error
		f, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}
	multi := io.MultiWriter(writers...)
	Log = zerolog.New(multi).With().Timestamp().Logger()
	app = Log.Level(ParseLevel(appLevel)).With().Str("component", "connector").Logger()

	return func() {
		if f != nil {
			_ = f.Close()
		}
	}, nil
}

// Get returns a pointer to the package-global logger.
func Get() *zerolog.Logger {
	return &Log
}

// App returns the decision logger used for connect/disconnect/skip logging.
func App() *zerolog.Logger {
	return &app
}
