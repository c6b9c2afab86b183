// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/pterm/pterm"
)

// Setup routes log/slog through pterm's logger on stderr. Debug output is
// enabled when debug is true.
func Setup(debug bool) {
	slog.SetDefault(New(os.Stderr, debug))
}

// New builds a slog.Logger that renders through pterm into w.
func New(w io.Writer, debug bool) *slog.Logger {
	level := pterm.LogLevelInfo
	if debug {
		level = pterm.LogLevelDebug
	}

	logger := pterm.DefaultLogger.
		WithWriter(w).
		WithLevel(level).
		WithTime(true).
		WithTimeFormat("02 Jan 15:04:05").
		WithMaxWidth(1000)

	return slog.New(pterm.NewSlogHandler(logger))
}
