package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP   = 1
	protocolICMPv6 = 58
	echoTTL        = 64
)

// ICMPPinger sends ICMP Echo requests over a socket opened for each probe.
type ICMPPinger struct {
	// Privileged tries a raw socket before the unprivileged datagram socket
	Privileged bool
}

// echoSocket is an ICMP socket opened for a single probe.
type echoSocket struct {
	conn *icmp.PacketConn
	ipv6 bool
	// datagram sockets have their echo ID rewritten by the kernel
	datagram bool
}

// Ping sends one Echo Request to dest and waits for the matching reply.
func (p *ICMPPinger) Ping(ctx context.Context, dest net.IP) (time.Duration, error) {
	sock, err := p.listen(dest.To4() == nil)
	if err != nil {
		return 0, err
	}
	defer sock.conn.Close()

	if err := sock.setTTL(echoTTL); err != nil && !sock.datagram {
		return 0, fmt.Errorf("%w: failed to set TTL: %v", ErrProbeFailed, err)
	}

	id := uint16(rand.N(0xffff) + 1)
	seq := uint16(rand.N(0xffff) + 1)

	var echoType icmp.Type = ipv4.ICMPTypeEcho
	if sock.ipv6 {
		echoType = ipv6.ICMPTypeEchoRequest
	}

	msg := &icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(id),
			Seq:  int(seq),
			Data: timestampPayload(),
		},
	}

	msgBytes, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	if d, ok := ctx.Deadline(); ok {
		sock.conn.SetDeadline(d)
	}
	// Unblock ReadFrom as soon as the caller or governor gives up.
	stop := context.AfterFunc(ctx, func() {
		sock.conn.SetDeadline(time.Now())
	})
	defer stop()

	sendTime := time.Now()
	if _, err := sock.conn.WriteTo(msgBytes, sock.addr(dest)); err != nil {
		if isPermission(err) {
			return 0, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return 0, fmt.Errorf("%w: failed to send echo request: %v", ErrProbeFailed, err)
	}

	return sock.waitForReply(ctx, id, seq, sendTime)
}

// listen opens an ICMP socket, falling back between raw and datagram modes.
func (p *ICMPPinger) listen(ipv6 bool) (*echoSocket, error) {
	raw, dgram := "ip4:icmp", "udp4"
	addr := "0.0.0.0"
	if ipv6 {
		raw, dgram = "ip6:ipv6-icmp", "udp6"
		addr = "::"
	}

	order := []string{dgram, raw}
	if p.Privileged {
		order = []string{raw, dgram}
	}

	var firstErr error
	for _, network := range order {
		conn, err := icmp.ListenPacket(network, addr)
		if err == nil {
			return &echoSocket{
				conn:     conn,
				ipv6:     ipv6,
				datagram: network == dgram,
			}, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if isPermission(firstErr) {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, firstErr)
	}
	return nil, fmt.Errorf("%w: failed to open ICMP socket: %v", ErrProbeFailed, firstErr)
}

// setTTL sets the TTL/Hop Limit for outgoing packets.
func (s *echoSocket) setTTL(ttl int) error {
	if s.ipv6 {
		return s.conn.IPv6PacketConn().SetHopLimit(ttl)
	}
	return s.conn.IPv4PacketConn().SetTTL(ttl)
}

// addr returns the destination address in the form the socket expects.
func (s *echoSocket) addr(dest net.IP) net.Addr {
	if s.datagram {
		return &net.UDPAddr{IP: dest}
	}
	return &net.IPAddr{IP: dest}
}

// waitForReply reads until the matching Echo Reply arrives or the deadline passes.
func (s *echoSocket) waitForReply(ctx context.Context, id, seq uint16, sendTime time.Time) (time.Duration, error) {
	proto := protocolICMP
	if s.ipv6 {
		proto = protocolICMPv6
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if isTimeoutError(err) {
				return 0, ErrNoReply
			}
			return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
		}
		rtt := time.Since(sendTime)

		matched, reached := s.match(buf[:n], proto, id, seq)
		if !matched {
			// Not our packet, continue waiting
			continue
		}
		if !reached {
			return 0, ErrNoReply
		}
		return rtt, nil
	}
}

// match reports whether data answers our probe and, if so, whether it is an
// Echo Reply (reached) rather than a Destination Unreachable.
func (s *echoSocket) match(data []byte, proto int, id, seq uint16) (matched, reached bool) {
	msg, err := icmp.ParseMessage(proto, data)
	if err != nil {
		return false, false
	}

	switch msg.Type {
	case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok || uint16(echo.Seq) != seq {
			return false, false
		}
		if !s.datagram && uint16(echo.ID) != id {
			return false, false
		}
		return true, true

	case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
		body, ok := msg.Body.(*icmp.DstUnreach)
		if !ok {
			return false, false
		}
		return s.matchQuoted(body.Data, id, seq), false
	}

	return false, false
}

// matchQuoted checks the original echo header quoted inside an ICMP error.
func (s *echoSocket) matchQuoted(orig []byte, id, seq uint16) bool {
	if s.ipv6 {
		// Fixed 40-byte IPv6 header
		if len(orig) < 48 || orig[40] != byte(ipv6.ICMPTypeEchoRequest) {
			return false
		}
		return binary.BigEndian.Uint16(orig[46:48]) == seq
	}

	if len(orig) < 28 { // 20 (IP) + 8 (ICMP header)
		return false
	}
	ipHeaderLen := int(orig[0]&0x0f) * 4
	if len(orig) < ipHeaderLen+8 {
		return false
	}
	hdr := orig[ipHeaderLen:]
	if hdr[0] != byte(ipv4.ICMPTypeEcho) {
		return false
	}
	if !s.datagram && binary.BigEndian.Uint16(hdr[4:6]) != id {
		return false
	}
	return binary.BigEndian.Uint16(hdr[6:8]) == seq
}

// timestampPayload creates an echo payload carrying the send time.
func timestampPayload() []byte {
	payload := make([]byte, 16)
	binary.BigEndian.PutUint64(payload[0:8], uint64(time.Now().UnixNano()))
	copy(payload[8:], "netdiag!")
	return payload
}
