package probe

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/KilimcininKorOglu/netdiag/internal/governor"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// PortProberConfig holds configuration for the port prober.
type PortProberConfig struct {
	// Timeout is the connect deadline (default: 3s)
	Timeout time.Duration

	// Dialer overrides the connection dialer (default: net.Dialer)
	Dialer Dialer
}

// DefaultPortProberConfig returns a default port prober configuration.
func DefaultPortProberConfig() PortProberConfig {
	return PortProberConfig{
		Timeout: governor.PortTimeout,
	}
}

// PortProber checks TCP port reachability with a single connect attempt.
type PortProber struct {
	timeout time.Duration
	dialer  Dialer
}

// NewPortProber creates a new port prober.
func NewPortProber(config PortProberConfig) *PortProber {
	if config.Timeout <= 0 {
		config.Timeout = governor.PortTimeout
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}
	return &PortProber{
		timeout: config.Timeout,
		dialer:  config.Dialer,
	}
}

// Check attempts one TCP connection to the target.
//
// Closed and timed-out ports are results, not errors. An error is returned
// only when the target is invalid (before any socket is opened) or when ctx
// is cancelled by the caller.
func (p *PortProber) Check(ctx context.Context, target Target) (*PortResult, error) {
	if err := target.Validate(true); err != nil {
		return nil, err
	}

	status, err := governor.Run(ctx, p.timeout, func(ctx context.Context) (PortStatus, error) {
		conn, err := p.dialer.DialContext(ctx, "tcp", target.Address())
		if err != nil {
			return classifyDialError(err), nil
		}
		// Pure reachability check: nothing is read or written.
		conn.Close()
		return PortOpen, nil
	})

	switch {
	case governor.IsTimeout(err):
		status = PortTimedOut
	case err != nil:
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}

	return &PortResult{
		Host:   target.Host,
		Port:   target.Port,
		Status: status,
	}, nil
}

// classifyDialError maps a connect error onto a port status.
func classifyDialError(err error) PortStatus {
	if errors.Is(err, context.DeadlineExceeded) || isTimeoutError(err) {
		return PortTimedOut
	}
	return PortClosed
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
