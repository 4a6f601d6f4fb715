// Package logging builds the slog loggers used by the CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger returns a text or JSON logger writing to w at level.
func Logger(w io.Writer, json bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps debug, info, warn and error (any case) to a level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q, valid options: [debug info warn error]", s)
	}
	return level, nil
}

// FileOptions configures a rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// FileWriter returns a rotating writer for opts.Path. The caller closes it.
func FileWriter(opts FileOptions) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB, // megabytes
		MaxAge:     opts.MaxAgeDays,
		MaxBackups: opts.MaxBackups,
	}
}

// Output returns console, or console plus a rotating file when opts.Path
// is set. The returned closer releases the file.
func Output(console io.Writer, opts FileOptions) (io.Writer, io.Closer) {
	if opts.Path == "" {
		return console, nopCloser{}
	}
	f := FileWriter(opts)
	return io.MultiWriter(console, f), f
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
