package probe

import "context"

// Outcome is the raw measurement from a single successful probe. LatencyMS is
// set for icmp/tcp probes, Throughput (bytes/sec) for bandwidth probes.
type Outcome struct {
	LatencyMS  float64
	Throughput float64
}

// Prober is one measurement capability (ICMP echo, TCP connect, bandwidth
// sample). Implementations must respect ctx cancellation; the executor bounds
// ctx by the probe timeout. addr is the already-resolved address in whatever
// form the capability needs (IP, host:port, or URL).
type Prober interface {
	Probe(ctx context.Context, addr string) (Outcome, error)
}
