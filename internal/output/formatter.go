// Package output provides formatting and output functionality for probe results.
package output

import (
	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
)

// Format represents the output format type.
type Format int

const (
	// FormatText is the human-readable one-line output
	FormatText Format = iota
	// FormatVerbose is the detailed table output
	FormatVerbose
	// FormatJSON is the raw response envelope
	FormatJSON
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatVerbose:
		return "verbose"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Formatter defines the interface for output formatters.
type Formatter interface {
	// Format converts a response envelope to formatted output bytes.
	Format(resp dispatch.Response) ([]byte, error)
}

// Config holds configuration for formatters.
type Config struct {
	// Colors enables ANSI color output
	Colors bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Colors: true,
	}
}

// NewFormatter creates a formatter based on the specified format.
func NewFormatter(format Format, config Config) Formatter {
	switch format {
	case FormatVerbose:
		return NewTableFormatter(config)
	case FormatJSON:
		return NewJSONFormatter(config)
	default:
		return NewTextFormatter(config)
	}
}

// FormatFor picks the format selected by the CLI output flags.
func FormatFor(jsonOutput, verbose bool) Format {
	switch {
	case jsonOutput:
		return FormatJSON
	case verbose:
		return FormatVerbose
	default:
		return FormatText
	}
}
