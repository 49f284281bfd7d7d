// Package procenv builds the process's own diagnostic logger: the
// human-readable console stream a developer watches while local-logger
// runs, kept entirely separate from the NDJSON data log in
// internal/logsink (SPEC_FULL.md §2 component 11).
//
// Grounded on osapi-io-osapi/cmd/root.go's initLogger: a slog.Handler
// backed by github.com/lmittmann/tint (colour disabled when standard error
// is not a terminal), or a plain slog.NewJSONHandler when Options.JSON is
// set.
package procenv

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Options configures the process logger.
type Options struct {
	Debug bool
	JSON  bool
}

// New builds a *slog.Logger writing to standard error.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		})
	}

	return slog.New(handler)
}
