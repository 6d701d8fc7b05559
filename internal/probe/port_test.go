package probe

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// blackholeDialer never connects; it only returns once ctx is done.
type blackholeDialer struct{}

func (blackholeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// countingDialer records whether it was used.
type countingDialer struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return nil, errors.New("unexpected dial")
}

func TestDefaultPortProberConfig(t *testing.T) {
	config := DefaultPortProberConfig()
	if config.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", config.Timeout)
	}
}

func TestPortProber_Open(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	prober := NewPortProber(DefaultPortProberConfig())

	result, err := prober.Check(context.Background(), Target{Host: "127.0.0.1", Port: port})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Status != PortOpen {
		t.Errorf("Status = %q, want %q", result.Status, PortOpen)
	}
	if result.Host != "127.0.0.1" || result.Port != port {
		t.Errorf("result = %+v, want host 127.0.0.1 port %d", result, port)
	}
}

func TestPortProber_Closed(t *testing.T) {
	// Grab a free port, then release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	prober := NewPortProber(DefaultPortProberConfig())
	result, err := prober.Check(context.Background(), Target{Host: "127.0.0.1", Port: port})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Status != PortClosed {
		t.Errorf("Status = %q, want %q", result.Status, PortClosed)
	}
}

func TestPortProber_UnresolvableHost(t *testing.T) {
	prober := NewPortProber(DefaultPortProberConfig())
	result, err := prober.Check(context.Background(), Target{Host: "does-not-exist.invalid", Port: 80})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Status == PortOpen {
		t.Errorf("Status = %q, want a closed status", result.Status)
	}
}

func TestPortProber_Timeout(t *testing.T) {
	timeout := 150 * time.Millisecond
	prober := NewPortProber(PortProberConfig{
		Timeout: timeout,
		Dialer:  blackholeDialer{},
	})

	start := time.Now()
	result, err := prober.Check(context.Background(), Target{Host: "192.0.2.1", Port: 81})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Status != PortTimedOut {
		t.Errorf("Status = %q, want %q", result.Status, PortTimedOut)
	}
	if elapsed < timeout {
		t.Errorf("Check() returned after %v, before the %v deadline", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("Check() took %v, far past the %v deadline", elapsed, timeout)
	}
}

func TestPortProber_Validation(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr error
	}{
		{"missing host", Target{Host: "", Port: 80}, ErrMissingHost},
		{"blank host", Target{Host: "   ", Port: 80}, ErrMissingHost},
		{"missing port", Target{Host: "localhost"}, ErrInvalidPort},
		{"negative port", Target{Host: "localhost", Port: -1}, ErrInvalidPort},
		{"port too large", Target{Host: "localhost", Port: 65536}, ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &countingDialer{}
			prober := NewPortProber(PortProberConfig{Dialer: dialer})

			_, err := prober.Check(context.Background(), tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check() error = %v, want %v", err, tt.wantErr)
			}
			if dialer.calls != 0 {
				t.Errorf("dialer called %d times, want 0", dialer.calls)
			}
		})
	}
}

func TestPortProber_ContextCancellation(t *testing.T) {
	prober := NewPortProber(PortProberConfig{
		Timeout: 10 * time.Second,
		Dialer:  blackholeDialer{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := prober.Check(ctx, Target{Host: "192.0.2.1", Port: 81})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Check() error = %v, want context.Canceled", err)
	}
}

func TestTarget_Address(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{Target{Host: "example.com", Port: 443}, "example.com:443"},
		{Target{Host: " 10.0.0.1 ", Port: 22}, "10.0.0.1:22"},
		{Target{Host: "::1", Port: 8080}, "[::1]:8080"},
	}

	for _, tt := range tests {
		if got := tt.target.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
}

func TestPortStatus_String(t *testing.T) {
	tests := []struct {
		status PortStatus
		want   string
	}{
		{PortOpen, "open"},
		{PortClosed, "closed"},
		{PortTimedOut, "closed (timeout)"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
