// Package logging builds the zerolog loggers used across devlink.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Dir is where the CLI keeps its log file, relative to the working directory.
const Dir = ".devlink/logs"

// FileName is the log file inside Dir.
const FileName = "devlink.log"

// New creates a console-formatted logger writing to w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    true,
	}).Level(level).With().Timestamp().Logger()
}

// Level returns debug when verbose, info otherwise.
func Level(debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// OpenFile appends to Dir/FileName under root and returns a logger bound to
// it. The caller closes the returned file.
func OpenFile(root string, debug bool) (zerolog.Logger, *os.File, error) {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	return New(f, Level(debug)), f, nil
}
