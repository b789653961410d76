package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPProber measures the time to complete a TCP handshake with addr
// (host:port). The connection is closed immediately after connect.
type TCPProber struct {
	Dialer net.Dialer
}

func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

func (p *TCPProber) Probe(ctx context.Context, addr string) (Outcome, error) {
	start := time.Now()
	conn, err := p.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Outcome{}, fmt.Errorf("tcp connect %s: %w", addr, err)
	}
	lat := time.Since(start).Seconds() * 1000
	_ = conn.Close()
	return Outcome{LatencyMS: lat}, nil
}
