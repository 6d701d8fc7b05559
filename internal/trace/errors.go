package trace

import "errors"

// Trace-related errors.
var (
	// ErrMissingHost indicates the target is empty
	ErrMissingHost = errors.New("host is required")

	// ErrInvalidHost indicates the target cannot be passed to the trace program safely
	ErrInvalidHost = errors.New("host must not contain whitespace or start with '-'")

	// ErrInvalidTimeout indicates timeout is too short
	ErrInvalidTimeout = errors.New("timeout must be at least 100ms")

	// ErrMissingBinary indicates no trace program is configured
	ErrMissingBinary = errors.New("trace binary is required")
)
