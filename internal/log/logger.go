// Package log builds the process-wide zerolog logger: leveled, timestamped,
// written to the console and appended to a log file.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger with the given level string (debug, info, warn,
// error). When filePath is non-empty, output is mirrored to that file in
// append mode; the returned closer releases it.
func New(level, filePath string) (zerolog.Logger, func() error, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	var out io.Writer = console
	closer := func() error { return nil }
	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(console, f)
		closer = f.Close
	}

	logger := zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
	return logger, closer, nil
}

func parseLevel(level string) zerolog.Level {
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
