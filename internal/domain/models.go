package domain

import "time"

type TargetID string

// ProbeKind selects the measurement capability used for a target.
type ProbeKind string

const (
	KindICMP      ProbeKind = "icmp"
	KindTCP       ProbeKind = "tcp"
	KindBandwidth ProbeKind = "bandwidth"
)

func (k ProbeKind) Valid() bool {
	switch k {
	case KindICMP, KindTCP, KindBandwidth:
		return true
	}
	return false
}

// Target is a host under measurement. The identifier and address are fixed at
// configure time; the resolved address lives in the executor's resolver cache,
// not here, so Target stays safe to share between goroutines.
type Target struct {
	ID      TargetID  `json:"id"`
	Address string    `json:"address"` // hostname, IP, or URL for bandwidth targets
	Kind    ProbeKind `json:"kind"`
	Port    int       `json:"port,omitempty"` // tcp targets only
}

// Cause classifies a failed probe.
type Cause string

const (
	CauseNone             Cause = ""
	CauseTimeout          Cause = "timeout"
	CauseUnreachable      Cause = "unreachable"
	CauseResolutionFailed Cause = "resolution_failed"
	CauseAborted          Cause = "aborted"
)

// ProbeResult is the outcome of a single probe. LatencyMS carries the measured
// round trip for icmp/tcp probes; Throughput carries bytes/sec for bandwidth
// probes. Exactly one of them is meaningful on success.
type ProbeResult struct {
	TargetID    TargetID  `json:"target_id"`
	Success     bool      `json:"success"`
	LatencyMS   float64   `json:"latency_ms,omitempty"`
	Throughput  float64   `json:"throughput_bps,omitempty"`
	Cause       Cause     `json:"cause,omitempty"`
	Message     string    `json:"message,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Value returns the sample recorded into the rolling window: latency for
// icmp/tcp, throughput for bandwidth probes.
func (r ProbeResult) Value() float64 {
	if r.Throughput > 0 {
		return r.Throughput
	}
	return r.LatencyMS
}

// TargetStats is a copy-on-read snapshot of one target's rolling window.
// Derived fields are nil when the window holds no successful sample
// (pointer to allow nil, "no data" rather than zero).
type TargetStats struct {
	TargetID    TargetID `json:"target_id"`
	SampleCount int      `json:"sample_count"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Mean        *float64 `json:"mean,omitempty"`
	Jitter      *float64 `json:"jitter,omitempty"`
	LossRatio   float64  `json:"loss_ratio"`

	// Session-cumulative percentiles; unlike the windowed fields above these
	// never evict.
	P50 *float64 `json:"p50,omitempty"`
	P90 *float64 `json:"p90,omitempty"`
	P99 *float64 `json:"p99,omitempty"`
}
