package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/netdiag/internal/governor"
)

// Pinger sends a single echo request to dest and returns the round-trip time.
// It returns ErrNoReply when the request went out but nothing answered.
type Pinger interface {
	Ping(ctx context.Context, dest net.IP) (time.Duration, error)
}

// Resolver resolves host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Ping backend names.
const (
	BackendICMP   = "icmp"
	BackendGoPing = "goping"
)

// ReachabilityConfig holds configuration for the reachability prober.
type ReachabilityConfig struct {
	// Timeout bounds the echo round trip (default: 5s)
	Timeout time.Duration

	// Backend selects the pinger: "icmp" or "goping" (default: icmp)
	Backend string

	// Privileged prefers raw ICMP sockets over unprivileged datagram sockets
	Privileged bool

	// Pinger overrides the backend entirely
	Pinger Pinger

	// Resolver overrides name resolution (default: net.DefaultResolver)
	Resolver Resolver
}

// DefaultReachabilityConfig returns a default reachability configuration.
func DefaultReachabilityConfig() ReachabilityConfig {
	return ReachabilityConfig{
		Timeout: governor.PingTimeout,
		Backend: BackendICMP,
	}
}

// NewPinger returns the pinger for a backend name.
func NewPinger(backend string, privileged bool) (Pinger, error) {
	switch strings.ToLower(backend) {
	case "", BackendICMP:
		return &ICMPPinger{Privileged: privileged}, nil
	case BackendGoPing:
		return &GoPinger{Privileged: privileged}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// ReachabilityProber answers whether a host replies to one echo request.
type ReachabilityProber struct {
	timeout  time.Duration
	pinger   Pinger
	resolver Resolver
}

// NewReachabilityProber creates a new reachability prober.
func NewReachabilityProber(config ReachabilityConfig) (*ReachabilityProber, error) {
	if config.Timeout <= 0 {
		config.Timeout = governor.PingTimeout
	}
	if config.Resolver == nil {
		config.Resolver = net.DefaultResolver
	}

	pinger := config.Pinger
	if pinger == nil {
		var err error
		pinger, err = NewPinger(config.Backend, config.Privileged)
		if err != nil {
			return nil, err
		}
	}

	return &ReachabilityProber{
		timeout:  config.Timeout,
		pinger:   pinger,
		resolver: config.Resolver,
	}, nil
}

// Ping probes the host once.
//
// A host that does not answer within the deadline yields Alive=false. Failures
// that prevent probing altogether (resolution, socket permissions) are
// returned as errors wrapping ErrProbeFailed.
func (p *ReachabilityProber) Ping(ctx context.Context, host string) (*ReachabilityResult, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, ErrMissingHost
	}

	dest, err := p.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	rtt, err := governor.Run(ctx, p.timeout, func(ctx context.Context) (time.Duration, error) {
		return p.pinger.Ping(ctx, dest)
	})

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == nil:
		return aliveResult(host, rtt), nil
	case governor.IsTimeout(err), errors.Is(err, ErrNoReply):
		return &ReachabilityResult{Host: host, Alive: false}, nil
	case errors.Is(err, ErrProbeFailed):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
}

// resolve turns the host into a single IP, preferring IPv4.
func (p *ReachabilityProber) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	addrs, err := governor.Run(ctx, p.timeout, func(ctx context.Context) ([]net.IPAddr, error) {
		return p.resolver.LookupIPAddr(ctx, host)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: failed to resolve %s: %v", ErrProbeFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no IP addresses found for %s", ErrProbeFailed, host)
	}

	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return addr.IP, nil
		}
	}
	return addrs[0].IP, nil
}

func aliveResult(host string, rtt time.Duration) *ReachabilityResult {
	ms := float64(rtt.Microseconds()) / 1000.0
	if ms <= 0 {
		// Loopback replies can land below clock resolution.
		ms = 0.001
	}
	return &ReachabilityResult{
		Host:            host,
		Alive:           true,
		RoundTripTimeMs: &ms,
	}
}
