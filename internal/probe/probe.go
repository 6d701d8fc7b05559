// Package probe provides single-target reachability probes: TCP port checks
// and ICMP echo (ping) round trips.
package probe

import (
	"net"
	"strconv"
	"strings"
)

// Target identifies the host (and optionally the port) a probe runs against.
type Target struct {
	Host string
	Port int
}

// Validate checks the target. The port is only checked when requirePort is set.
func (t Target) Validate(requirePort bool) error {
	if strings.TrimSpace(t.Host) == "" {
		return ErrMissingHost
	}
	if requirePort && (t.Port < 1 || t.Port > 65535) {
		return ErrInvalidPort
	}
	return nil
}

// Address returns the host:port form of the target.
func (t Target) Address() string {
	return net.JoinHostPort(strings.TrimSpace(t.Host), strconv.Itoa(t.Port))
}

// PortStatus is the terminal outcome of a port probe.
type PortStatus string

const (
	// PortOpen means a TCP connection was established
	PortOpen PortStatus = "open"
	// PortClosed means the connection attempt failed (refused, unreachable, unresolvable)
	PortClosed PortStatus = "closed"
	// PortTimedOut means no connection event happened before the deadline
	PortTimedOut PortStatus = "closed (timeout)"
)

// String returns the wire representation of the status.
func (s PortStatus) String() string {
	return string(s)
}

// IsOpen reports whether the port accepted a connection.
func (s PortStatus) IsOpen() bool {
	return s == PortOpen
}

// PortResult is the result of a port probe.
type PortResult struct {
	Host   string     `json:"host"`
	Port   int        `json:"port"`
	Status PortStatus `json:"status"`
}

// ReachabilityResult is the result of a single echo probe.
// RoundTripTimeMs is set if and only if Alive is true.
type ReachabilityResult struct {
	Host            string   `json:"host"`
	Alive           bool     `json:"alive"`
	RoundTripTimeMs *float64 `json:"round_trip_time_ms,omitempty"`
}

// RTT returns the round-trip time in milliseconds, or 0 when the host did not reply.
func (r *ReachabilityResult) RTT() float64 {
	if r == nil || r.RoundTripTimeMs == nil {
		return 0
	}
	return *r.RoundTripTimeMs
}
