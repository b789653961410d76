package probe

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTCPProber_ConnectLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := NewTCPProber()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := p.Probe(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if out.LatencyMS < 0 {
		t.Fatalf("latency should be >= 0, got %f", out.LatencyMS)
	}
}

func TestTCPProber_RefusedPort(t *testing.T) {
	// grab a free port, then close it so the connect is refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewTCPProber()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := p.Probe(ctx, addr); err == nil {
		t.Fatal("want connect error on closed port")
	}
}

func TestPingArgs_WaitFlagUnits(t *testing.T) {
	const timeout = 2 * time.Second
	cases := []struct {
		goos string
		want []string
	}{
		{"linux", []string{"-c", "1", "-W", "2", "host"}},
		{"darwin", []string{"-c", "1", "-W", "2000", "host"}},
		{"windows", []string{"-n", "1", "-w", "2000", "host"}},
	}
	for _, c := range cases {
		got := pingArgs(c.goos, timeout, "host")
		if len(got) != len(c.want) {
			t.Fatalf("%s: got %v want %v", c.goos, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%s: got %v want %v", c.goos, got, c.want)
			}
		}
	}
}

func TestParseRTT(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"64 bytes from 1.1.1.1: icmp_seq=1 ttl=57 time=12.3 ms", 12.3, true},
		{"Reply from 1.1.1.1: bytes=32 time=5ms TTL=57", 5, true},
		{"round-trip min/avg/max = 10.1/15.5/20.9 ms", 15.5, true},
		{"Request timeout for icmp_seq 0", 0, false},
	}
	for _, c := range cases {
		got, ok := parseRTT(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Fatalf("parseRTT(%q)=%v,%v want %v,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}
