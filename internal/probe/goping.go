package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ping/ping"
)

// GoPinger sends a single echo request through github.com/go-ping/ping.
type GoPinger struct {
	// Privileged uses raw sockets instead of unprivileged UDP ping
	Privileged bool

	// newPinger is replaced in tests
	newPinger func(addr string) (*ping.Pinger, error)
}

// Ping sends one echo request to dest.
func (p *GoPinger) Ping(ctx context.Context, dest net.IP) (time.Duration, error) {
	newPinger := p.newPinger
	if newPinger == nil {
		newPinger = ping.NewPinger
	}

	pinger, err := newPinger(dest.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	pinger.Count = 1
	pinger.Timeout = pingTimeout(ctx)
	pinger.SetPrivileged(p.Privileged)

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	if err := pinger.Run(); err != nil {
		return 0, classifyPingError(err)
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	stats := pinger.Statistics()
	if stats == nil || stats.PacketsRecv == 0 || len(stats.Rtts) == 0 {
		return 0, ErrNoReply
	}
	return stats.Rtts[0], nil
}

// pingTimeout derives the pinger's own timeout from the context deadline.
func pingTimeout(ctx context.Context) time.Duration {
	if d, ok := ctx.Deadline(); ok {
		if left := time.Until(d); left > 0 {
			return left
		}
		return time.Millisecond
	}
	return 5 * time.Second
}

func classifyPingError(err error) error {
	if isPermission(err) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrProbeFailed, err)
}
