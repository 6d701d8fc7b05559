// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the log level and sink format.
type Options struct {
	Level   string // debug, info, warn, error (default: info)
	Format  string // console or json (default: console)
	NoColor bool
}

// New builds a logger writing to w.
//
// The console format is colorized only when w is a terminal.
func New(w io.Writer, opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var sink io.Writer
	switch opts.Format {
	case "", "console":
		sink = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    opts.NoColor || !isTerminal(w),
			TimeFormat: time.TimeOnly,
		}
	case "json":
		sink = w
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", opts.Format)
	}

	return zerolog.New(sink).Level(level).With().Timestamp().Logger(), nil
}

// Setup builds a logger and installs it as the global zerolog logger.
func Setup(w io.Writer, opts Options) (zerolog.Logger, error) {
	logger, err := New(w, opts)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
