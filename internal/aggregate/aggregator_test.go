package aggregate

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/domain"
)

func tgt(id string) domain.Target {
	return domain.Target{ID: domain.TargetID(id), Address: "198.51.100.1", Kind: domain.KindICMP}
}

func okResult(id string, ms float64) domain.ProbeResult {
	now := time.Now()
	return domain.ProbeResult{
		TargetID:    domain.TargetID(id),
		Success:     true,
		LatencyMS:   ms,
		IssuedAt:    now,
		CompletedAt: now,
	}
}

func failResult(id string, cause domain.Cause) domain.ProbeResult {
	now := time.Now()
	return domain.ProbeResult{
		TargetID:    domain.TargetID(id),
		Success:     false,
		Cause:       cause,
		IssuedAt:    now,
		CompletedAt: now,
	}
}

func TestAggregator_WindowEvictionShiftsMean(t *testing.T) {
	a := New(zap.NewNop(), []domain.Target{tgt("A")}, 3)

	for _, ms := range []float64{10, 20, 30, 40} {
		a.Record(okResult("A", ms))
	}

	s := a.Snapshot("A")
	if s == nil {
		t.Fatal("missing snapshot")
	}
	if s.SampleCount != 3 {
		t.Fatalf("want sample_count 3 after eviction, got %d", s.SampleCount)
	}
	// window now holds 20,30,40
	if s.Mean == nil || math.Abs(*s.Mean-30) > 1e-9 {
		t.Fatalf("want mean 30, got %+v", s.Mean)
	}
	if s.Min == nil || *s.Min != 20 {
		t.Fatalf("want min 20 after oldest evicted, got %+v", s.Min)
	}
	if s.Max == nil || *s.Max != 40 {
		t.Fatalf("want max 40, got %+v", s.Max)
	}
}

func TestAggregator_LossRatioAndAbsentMetrics(t *testing.T) {
	a := New(zap.NewNop(), []domain.Target{tgt("A")}, 10)

	for i := 0; i < 4; i++ {
		a.Record(failResult("A", domain.CauseTimeout))
	}

	s := a.Snapshot("A")
	if s.LossRatio != 1.0 {
		t.Fatalf("want loss_ratio 1.0, got %v", s.LossRatio)
	}
	if s.Min != nil || s.Max != nil || s.Mean != nil || s.Jitter != nil {
		t.Fatalf("latency metrics should be absent with no successes: %+v", s)
	}
	if s.SampleCount != 4 {
		t.Fatalf("timeouts still count as samples, got %d", s.SampleCount)
	}
}

func TestAggregator_MixedLoss(t *testing.T) {
	a := New(zap.NewNop(), []domain.Target{tgt("A")}, 10)
	a.Record(okResult("A", 10))
	a.Record(failResult("A", domain.CauseUnreachable))
	a.Record(okResult("A", 20))
	a.Record(failResult("A", domain.CauseTimeout))

	s := a.Snapshot("A")
	if s.LossRatio != 0.5 {
		t.Fatalf("want loss_ratio 0.5, got %v", s.LossRatio)
	}
	if s.Mean == nil || *s.Mean != 15 {
		t.Fatalf("want mean 15 over successes only, got %+v", s.Mean)
	}
}

func TestAggregator_JitterIsWindowStddev(t *testing.T) {
	a := New(zap.NewNop(), []domain.Target{tgt("A")}, 10)
	// samples 10 and 20: population stddev = 5
	a.Record(okResult("A", 10))
	a.Record(okResult("A", 20))

	s := a.Snapshot("A")
	if s.Jitter == nil || math.Abs(*s.Jitter-5) > 1e-9 {
		t.Fatalf("want jitter 5, got %+v", s.Jitter)
	}
}

func TestAggregator_AbortedExcludedFromStats(t *testing.T) {
	a := New(zap.NewNop(), []domain.Target{tgt("A")}, 10)
	a.Record(okResult("A", 10))
	a.Record(failResult("A", domain.CauseAborted))

	s := a.Snapshot("A")
	if s.SampleCount != 1 {
		t.Fatalf("aborted result must not enter the window, got count %d", s.SampleCount)
	}
	if s.LossRatio != 0 {
		t.Fatalf("aborted result must not count as loss, got %v", s.LossRatio)
	}
	if a.Aborted() != 1 {
		t.Fatalf("want aborted count 1, got %d", a.Aborted())
	}
}

func TestAggregator_SnapshotAllIncludesIdleTargets(t *testing.T) {
	a := New(zap.NewNop(), []domain.Target{tgt("A"), tgt("B")}, 10)
	a.Record(okResult("A", 10))

	all := a.SnapshotAll()
	if len(all) != 2 {
		t.Fatalf("want 2 entries, got %d", len(all))
	}
	if all["B"].SampleCount != 0 {
		t.Fatalf("idle target should have zero samples, got %d", all["B"].SampleCount)
	}
}

func TestAggregator_Percentiles(t *testing.T) {
	a := New(zap.NewNop(), []domain.Target{tgt("A")}, 5)
	for i := 1; i <= 100; i++ {
		a.Record(okResult("A", float64(i)))
	}
	s := a.Snapshot("A")
	if s.P50 == nil || s.P99 == nil {
		t.Fatal("percentiles missing")
	}
	// cumulative histogram covers all 100 samples even though the window
	// only holds the last 5
	if *s.P50 < 40 || *s.P50 > 60 {
		t.Fatalf("p50 out of range: %v", *s.P50)
	}
	if *s.P99 < 90 {
		t.Fatalf("p99 out of range: %v", *s.P99)
	}
	if s.SampleCount != 5 {
		t.Fatalf("window should hold 5, got %d", s.SampleCount)
	}
}
