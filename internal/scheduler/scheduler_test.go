package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/domain"
	"github.com/netprobe-io/netprobe/internal/probe"
)

// fake executor with controllable latency and an in-flight high-water mark
type fakeExec struct {
	mu      sync.Mutex
	delays  map[domain.TargetID]time.Duration
	delay   time.Duration
	cur     int32
	max     int32
	callLog []domain.TargetID
}

func (f *fakeExec) Execute(ctx context.Context, p probe.Probe) domain.ProbeResult {
	cur := atomic.AddInt32(&f.cur, 1)
	for {
		max := atomic.LoadInt32(&f.max)
		if cur <= max || atomic.CompareAndSwapInt32(&f.max, max, cur) {
			break
		}
	}
	f.mu.Lock()
	f.callLog = append(f.callLog, p.Target.ID)
	d := f.delay
	if td, ok := f.delays[p.Target.ID]; ok {
		d = td
	}
	f.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	atomic.AddInt32(&f.cur, -1)
	return domain.ProbeResult{
		TargetID:    p.Target.ID,
		Success:     true,
		LatencyMS:   10,
		IssuedAt:    p.IssuedAt,
		CompletedAt: time.Now().UTC(),
	}
}

func (f *fakeExec) calls() []domain.TargetID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TargetID, len(f.callLog))
	copy(out, f.callLog)
	return out
}

func targets(ids ...string) []domain.Target {
	out := make([]domain.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Target{ID: domain.TargetID(id), Address: "192.0.2.1", Kind: domain.KindICMP})
	}
	return out
}

func drain(results <-chan domain.ProbeResult, done <-chan struct{}) []domain.ProbeResult {
	var out []domain.ProbeResult
	for {
		select {
		case r := <-results:
			out = append(out, r)
		case <-done:
			for {
				select {
				case r := <-results:
					out = append(out, r)
				default:
					return out
				}
			}
		}
	}
}

func TestScheduler_ConcurrencyBoundNeverExceeded(t *testing.T) {
	exec := &fakeExec{delay: 15 * time.Millisecond}
	results := make(chan domain.ProbeResult, 2)

	s := New(zap.NewNop(), exec, targets("A", "B", "C", "D", "E"), Config{
		Interval:    5 * time.Millisecond,
		Timeout:     time.Second,
		Concurrency: 2,
		MaxTicks:    4,
	}, results)

	go s.Run(context.Background())
	got := drain(results, s.Done())

	if max := atomic.LoadInt32(&exec.max); max > 2 {
		t.Fatalf("concurrency bound violated: %d probes in flight", max)
	}
	if len(got) == 0 {
		t.Fatal("no results delivered")
	}
}

func TestScheduler_CoalescesSlowTarget(t *testing.T) {
	// target A takes longer than 3 tick intervals; it must never stack
	exec := &fakeExec{
		delays: map[domain.TargetID]time.Duration{"A": 80 * time.Millisecond},
	}
	results := make(chan domain.ProbeResult, 4)

	s := New(zap.NewNop(), exec, targets("A", "B"), Config{
		Interval:    10 * time.Millisecond,
		Timeout:     time.Second,
		Concurrency: 4,
		MaxTicks:    6,
	}, results)

	go s.Run(context.Background())
	got := drain(results, s.Done())

	var aCount, bCount int
	for _, r := range got {
		switch r.TargetID {
		case "A":
			aCount++
		case "B":
			bCount++
		}
	}
	// six ticks span ~50ms; A resolves after 80ms, so only the first tick's
	// probe (and at most one follow-up) ever dispatched for it
	if aCount > 2 {
		t.Fatalf("slow target stacked probes: %d results", aCount)
	}
	if bCount < 4 {
		t.Fatalf("fast target starved: %d results", bCount)
	}
}

func TestScheduler_DispatchFollowsConfigOrder(t *testing.T) {
	exec := &fakeExec{}
	results := make(chan domain.ProbeResult, 3)

	// bound of 1 serializes execution, exposing dispatch order
	s := New(zap.NewNop(), exec, targets("C", "A", "B"), Config{
		Interval:    time.Hour, // single tick
		Timeout:     time.Second,
		Concurrency: 1,
		MaxTicks:    1,
	}, results)

	go s.Run(context.Background())
	drain(results, s.Done())

	got := exec.calls()
	want := []domain.TargetID{"C", "A", "B"}
	if len(got) != len(want) {
		t.Fatalf("want %d calls, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

func TestScheduler_MaxTicksProducesExactSampleCount(t *testing.T) {
	exec := &fakeExec{}
	results := make(chan domain.ProbeResult, 2)

	s := New(zap.NewNop(), exec, targets("A", "B"), Config{
		Interval:    5 * time.Millisecond,
		Timeout:     time.Second,
		Concurrency: 2,
		MaxTicks:    5,
	}, results)

	go s.Run(context.Background())
	got := drain(results, s.Done())

	counts := map[domain.TargetID]int{}
	for _, r := range got {
		counts[r.TargetID]++
	}
	if counts["A"] != 5 || counts["B"] != 5 {
		t.Fatalf("want 5 samples per target, got %v", counts)
	}
}

func TestScheduler_StopLetsInflightResolve(t *testing.T) {
	exec := &fakeExec{delay: 30 * time.Millisecond}
	results := make(chan domain.ProbeResult, 1)

	s := New(zap.NewNop(), exec, targets("A"), Config{
		Interval:    5 * time.Millisecond,
		Timeout:     time.Second,
		Concurrency: 1,
	}, results)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(10 * time.Millisecond) // first probe in flight
	cancel()

	got := drain(results, s.Done())
	if len(got) == 0 {
		t.Fatal("in-flight probe should still deliver its result")
	}
	if s.Outstanding() != 0 {
		t.Fatalf("want zero outstanding after done, got %d", s.Outstanding())
	}
	if s.Discarded() != 0 {
		t.Fatalf("delivered results must not count as discarded, got %d", s.Discarded())
	}
}

func TestScheduler_AbandonUnblocksWorkers(t *testing.T) {
	exec := &fakeExec{}
	results := make(chan domain.ProbeResult) // unbuffered, nobody reading

	s := New(zap.NewNop(), exec, targets("A"), Config{
		Interval:    time.Hour,
		Timeout:     time.Second,
		Concurrency: 1,
		MaxTicks:    1,
	}, results)

	go s.Run(context.Background())

	time.Sleep(20 * time.Millisecond)
	if s.Outstanding() != 1 {
		t.Fatalf("want one stuck worker, got %d", s.Outstanding())
	}
	s.Abandon()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("abandon did not unblock the worker")
	}
	// the scheduler itself counts what it threw away
	if s.Discarded() != 1 {
		t.Fatalf("want 1 discarded result, got %d", s.Discarded())
	}
}
