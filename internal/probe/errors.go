package probe

import (
	"errors"
	"os"
	"syscall"
)

// Probe-related errors.
var (
	// ErrMissingHost indicates the target host is empty
	ErrMissingHost = errors.New("host is required")

	// ErrInvalidPort indicates the port is missing or outside 1-65535
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrProbeFailed indicates the probe could not be executed at all
	ErrProbeFailed = errors.New("probe failed")

	// ErrPermissionDenied indicates insufficient privileges for ICMP sockets
	ErrPermissionDenied = errors.New("permission denied: ICMP socket requires elevated privileges")

	// ErrNoReply indicates the probe was sent but nothing answered
	ErrNoReply = errors.New("no reply received")

	// ErrUnknownBackend indicates an unsupported ping backend name
	ErrUnknownBackend = errors.New("unknown ping backend")
)

// IsPermissionError returns true if the error is a permission error.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// isPermission reports whether a socket error was caused by missing privileges.
func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EACCES)
}
