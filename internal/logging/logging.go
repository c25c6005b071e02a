// Package logging sets up the diagnostic logger. Failures that the view
// swallows end up here, so it must never write to the terminal the TUI owns.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Stderr as a path sends logs to the standard error stream.
const Stderr = "-"

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Open returns a logger writing to path and the closer for it.
func Open(path, level, prefix string) (*log.Logger, io.Closer, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var w io.WriteCloser
	if path == "" || path == Stderr {
		w = nopCloser{os.Stderr}
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	return logger, w, nil
}
