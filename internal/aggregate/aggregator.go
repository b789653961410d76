package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/domain"
)

// DefaultWindow is the rolling window size used when the caller does not set
// one.
const DefaultWindow = 100

// Aggregator folds probe results into per-target rolling statistics. It is the
// single writer of all target state; readers only ever see copies produced by
// Snapshot/SnapshotAll, so they never need to coordinate with the consume
// loop.
type Aggregator struct {
	log    *zap.Logger
	window int

	mu       sync.RWMutex
	targets  map[domain.TargetID]*targetState
	aborted  int
	recorded int
}

type targetState struct {
	kind domain.ProbeKind
	win  *ring
	// hist keeps session-cumulative percentiles. Latency is recorded in
	// microseconds, throughput in bytes/sec.
	hist *hdrhistogram.Histogram
}

func New(log *zap.Logger, targets []domain.Target, window int) *Aggregator {
	if window < 1 {
		window = DefaultWindow
	}
	a := &Aggregator{
		log:     log,
		window:  window,
		targets: make(map[domain.TargetID]*targetState, len(targets)),
	}
	for _, t := range targets {
		a.targets[t.ID] = &targetState{
			kind: t.Kind,
			win:  newRing(window),
			hist: hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3),
		}
	}
	return a
}

// Record folds one result into its target's window. Aborted results are kept
// out of the statistics and only counted.
func (a *Aggregator) Record(r domain.ProbeResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.Cause == domain.CauseAborted {
		a.aborted++
		return
	}
	st := a.targets[r.TargetID]
	if st == nil {
		a.log.Warn("result_for_unknown_target", zap.String("target_id", string(r.TargetID)))
		return
	}
	st.win.push(sample{value: r.Value(), ok: r.Success})
	a.recorded++
	if r.Success {
		if err := st.hist.RecordValue(st.histValue(r)); err != nil {
			a.log.Debug("histogram_out_of_range",
				zap.String("target_id", string(r.TargetID)),
				zap.Float64("value", r.Value()),
			)
		}
	}
}

func (st *targetState) histValue(r domain.ProbeResult) int64 {
	if st.kind == domain.KindBandwidth {
		return int64(r.Throughput)
	}
	return int64(r.LatencyMS * 1000) // µs
}

// quantile converts a histogram value back to the window's unit (ms for
// latency targets, bytes/sec for bandwidth targets).
func (st *targetState) quantile(q float64) float64 {
	v := float64(st.hist.ValueAtQuantile(q))
	if st.kind == domain.KindBandwidth {
		return v
	}
	return v / 1000
}

// Snapshot returns a copy of one target's stats, nil if the target is unknown.
func (a *Aggregator) Snapshot(id domain.TargetID) *domain.TargetStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := a.targets[id]
	if st == nil {
		return nil
	}
	s := st.snapshot(id)
	return &s
}

// SnapshotAll returns copies for every configured target, including those that
// have not produced a sample yet.
func (a *Aggregator) SnapshotAll() map[domain.TargetID]domain.TargetStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[domain.TargetID]domain.TargetStats, len(a.targets))
	for id, st := range a.targets {
		out[id] = st.snapshot(id)
	}
	return out
}

// Aborted reports how many results arrived after shutdown abandoned them.
func (a *Aggregator) Aborted() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.aborted
}

func (st *targetState) snapshot(id domain.TargetID) domain.TargetStats {
	out := domain.TargetStats{
		TargetID:    id,
		SampleCount: st.win.count,
		LossRatio:   st.win.lossRatio(),
	}
	if st.win.succ > 0 {
		min, max := st.win.minMax()
		mean := st.win.mean()
		jitter := math.Sqrt(st.win.variance())
		out.Min = &min
		out.Max = &max
		out.Mean = &mean
		out.Jitter = &jitter
	}
	if st.hist.TotalCount() > 0 {
		p50 := st.quantile(50)
		p90 := st.quantile(90)
		p99 := st.quantile(99)
		out.P50 = &p50
		out.P90 = &p90
		out.P99 = &p99
	}
	return out
}
