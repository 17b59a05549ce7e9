// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const timeFormat = "2006-01-02 15:04:05.000"

// Options controls logger construction.
type Options struct {
	Level  slog.Level
	Format string // "text" (default) or "json"
	Color  bool
}

// New returns a logger writing to w and the LevelVar controlling it.
func New(w io.Writer, opts Options) (*slog.Logger, *slog.LevelVar) {
	lvl := &slog.LevelVar{}
	lvl.Set(opts.Level)

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			NoColor:    !opts.Color,
			TimeFormat: timeFormat,
		})
	}
	return slog.New(handler), lvl
}

// Setup builds a stderr logger, colourised when stderr is a terminal, and
// installs it as the slog default.
func Setup(opts Options) (*slog.Logger, *slog.LevelVar) {
	opts.Color = isatty.IsTerminal(os.Stderr.Fd())
	logger, lvl := New(colorable.NewColorable(os.Stderr), opts)
	slog.SetDefault(logger)
	return logger, lvl
}

// Stdout returns a writer for report output that renders ANSI colour
// sequences on every platform.
func Stdout() io.Writer {
	return colorable.NewColorable(os.Stdout)
}

// ParseLevel converts a level name such as "debug" or "WARN" to a slog.Level.
// The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Verbosity maps -v/-q flag counts onto a level, starting from base.
func Verbosity(base slog.Level, verbose int, quiet bool) slog.Level {
	switch {
	case quiet:
		return slog.LevelError
	case verbose > 0:
		return slog.LevelDebug
	}
	return base
}
