package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/domain"
)

// Probe is one unit of work: a target, the tick that issued it, and its
// deadline. Created by the scheduler, consumed here, discarded after the
// result is produced.
type Probe struct {
	Target   domain.Target
	IssuedAt time.Time
	Timeout  time.Duration
}

// Executor runs a probe to completion or timeout and classifies the outcome.
// It never returns later than the probe's timeout plus scheduling noise.
type Executor struct {
	log      *zap.Logger
	resolver *Resolver
	probers  map[domain.ProbeKind]Prober
}

func NewExecutor(log *zap.Logger, resolver *Resolver, probers map[domain.ProbeKind]Prober) *Executor {
	return &Executor{log: log, resolver: resolver, probers: probers}
}

// DefaultProbers wires the real capabilities for each kind.
func DefaultProbers() map[domain.ProbeKind]Prober {
	return map[domain.ProbeKind]Prober{
		domain.KindICMP:      NewICMPProber(),
		domain.KindTCP:       NewTCPProber(),
		domain.KindBandwidth: NewBandwidthProber(),
	}
}

func (e *Executor) Execute(ctx context.Context, p Probe) domain.ProbeResult {
	res := domain.ProbeResult{
		TargetID: p.Target.ID,
		IssuedAt: p.IssuedAt,
	}

	cctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	addr, err := e.address(cctx, p.Target)
	if err != nil {
		res.CompletedAt = time.Now().UTC()
		res.Cause = domain.CauseResolutionFailed
		res.Message = err.Error()
		return res
	}

	prober := e.probers[p.Target.Kind]
	out, err := prober.Probe(cctx, addr)
	res.CompletedAt = time.Now().UTC()

	// Transport-level results feed the resolver's failure streak; bandwidth
	// targets address a URL directly and never re-resolve here.
	if p.Target.Kind != domain.KindBandwidth {
		e.resolver.ReportResult(p.Target.ID, err == nil)
	}

	if err != nil {
		res.Cause = classify(err)
		res.Message = err.Error()
		e.log.Debug("probe_failed",
			zap.String("target_id", string(p.Target.ID)),
			zap.String("cause", string(res.Cause)),
			zap.Error(err),
		)
		return res
	}

	res.Success = true
	res.LatencyMS = out.LatencyMS
	res.Throughput = out.Throughput
	return res
}

// address produces the prober-specific address: URL for bandwidth, ip:port
// for tcp, bare ip for icmp.
func (e *Executor) address(ctx context.Context, t domain.Target) (string, error) {
	if t.Kind == domain.KindBandwidth {
		return t.Address, nil
	}
	ip, err := e.resolver.Resolve(ctx, t)
	if err != nil {
		return "", err
	}
	if t.Kind == domain.KindTCP {
		return net.JoinHostPort(ip, strconv.Itoa(t.Port)), nil
	}
	return ip, nil
}

func classify(err error) domain.Cause {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CauseTimeout
	}
	if errors.Is(err, context.Canceled) {
		return domain.CauseAborted
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.CauseTimeout
	}
	return domain.CauseUnreachable
}
