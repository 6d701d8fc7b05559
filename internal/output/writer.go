package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
)

// Writer handles output formatting and writing.
type Writer struct {
	formatter Formatter
	output    io.Writer
}

// NewWriter creates a new output writer on stdout.
func NewWriter(format Format, config Config) *Writer {
	return NewWriterTo(os.Stdout, format, config)
}

// NewWriterTo creates a writer on out. Colors and indented JSON are only
// used when out is a terminal; piped JSON is one envelope per line.
func NewWriterTo(out io.Writer, format Format, config Config) *Writer {
	f, _ := out.(*os.File)
	isTTY := isTerminal(f)
	if !isTTY {
		config.Colors = false
	}

	formatter := NewFormatter(format, config)
	if format == FormatJSON && !isTTY {
		formatter = NewJSONFormatterCompact(config)
	}

	return &Writer{
		formatter: formatter,
		output:    out,
	}
}

// Write formats and writes the response.
func (w *Writer) Write(resp dispatch.Response) error {
	data, err := w.formatter.Format(resp)
	if err != nil {
		return err
	}

	if _, err := w.output.Write(data); err != nil {
		return err
	}

	// Flush output if it's a file (ensures output is visible immediately)
	if f, ok := w.output.(*os.File); ok {
		f.Sync()
	}

	return nil
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isTerminal(f)
}

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
