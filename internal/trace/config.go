package trace

import (
	"runtime"
	"time"

	"github.com/KilimcininKorOglu/netdiag/internal/governor"
)

// CommandFunc returns the program and arguments used to trace host.
type CommandFunc func(host string) (name string, args []string)

// Config holds the configuration for trace operations.
type Config struct {
	Timeout     time.Duration // Hard kill deadline (default: 30s)
	Binary      string        // Trace program (default: tracert on Windows, traceroute elsewhere)
	Args        []string      // Extra arguments placed before the target
	ReapTimeout time.Duration // How long to wait for a killed process to be reaped (default: 5s)
	BufferSize  int           // Read size for output chunks (default: 4096)

	// Command overrides Binary and Args entirely
	Command CommandFunc
}

// DefaultBinary returns the platform trace program.
func DefaultBinary() string {
	if runtime.GOOS == "windows" {
		return "tracert"
	}
	return "traceroute"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:     governor.TraceTimeout,
		Binary:      DefaultBinary(),
		ReapTimeout: 5 * time.Second,
		BufferSize:  4096,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout < 100*time.Millisecond {
		return ErrInvalidTimeout
	}
	if c.Command == nil && c.Binary == "" {
		return ErrMissingBinary
	}
	return nil
}

// command builds the program invocation for host.
func (c *Config) command(host string) (string, []string) {
	if c.Command != nil {
		return c.Command(host)
	}
	args := make([]string, 0, len(c.Args)+1)
	args = append(args, c.Args...)
	args = append(args, host)
	return c.Binary, args
}
