package probe

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/domain"
)

func hostTarget() domain.Target {
	return domain.Target{ID: "T1", Address: "example.com", Kind: domain.KindICMP}
}

func TestResolver_IPLiteralPassesThrough(t *testing.T) {
	r := NewResolver(zap.NewNop(), 3).WithLookup(func(ctx context.Context, host string) ([]net.IP, error) {
		t.Fatal("lookup should not be called for ip literal")
		return nil, nil
	})
	addr, err := r.Resolve(context.Background(), domain.Target{ID: "T1", Address: "10.0.0.1"})
	if err != nil || addr != "10.0.0.1" {
		t.Fatalf("got %q, %v", addr, err)
	}
}

func TestResolver_CachesLookup(t *testing.T) {
	var calls int32
	r := NewResolver(zap.NewNop(), 3).WithLookup(func(ctx context.Context, host string) ([]net.IP, error) {
		atomic.AddInt32(&calls, 1)
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	})

	for i := 0; i < 5; i++ {
		addr, err := r.Resolve(context.Background(), hostTarget())
		if err != nil || addr != "93.184.216.34" {
			t.Fatalf("resolve %d: got %q, %v", i, addr, err)
		}
	}
	if calls != 1 {
		t.Fatalf("want a single lookup, got %d", calls)
	}
}

func TestResolver_FailStreakInvalidatesCache(t *testing.T) {
	var calls int32
	r := NewResolver(zap.NewNop(), 3).WithLookup(func(ctx context.Context, host string) ([]net.IP, error) {
		atomic.AddInt32(&calls, 1)
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	})

	tgt := hostTarget()
	if _, err := r.Resolve(context.Background(), tgt); err != nil {
		t.Fatal(err)
	}

	// two failures: cache survives
	r.ReportResult(tgt.ID, false)
	r.ReportResult(tgt.ID, false)
	if _, _ = r.Resolve(context.Background(), tgt); calls != 1 {
		t.Fatalf("cache dropped too early, %d lookups", calls)
	}

	// third consecutive failure crosses the threshold
	r.ReportResult(tgt.ID, false)
	if _, err := r.Resolve(context.Background(), tgt); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("want re-resolve after 3 consecutive failures, got %d lookups", calls)
	}
}

func TestResolver_SuccessResetsStreak(t *testing.T) {
	var calls int32
	r := NewResolver(zap.NewNop(), 3).WithLookup(func(ctx context.Context, host string) ([]net.IP, error) {
		atomic.AddInt32(&calls, 1)
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	})

	tgt := hostTarget()
	_, _ = r.Resolve(context.Background(), tgt)

	r.ReportResult(tgt.ID, false)
	r.ReportResult(tgt.ID, false)
	r.ReportResult(tgt.ID, true) // resets
	r.ReportResult(tgt.ID, false)
	r.ReportResult(tgt.ID, false)

	_, _ = r.Resolve(context.Background(), tgt)
	if calls != 1 {
		t.Fatalf("streak should have reset on success, got %d lookups", calls)
	}
}

func TestResolver_BackoffBlocksRetries(t *testing.T) {
	var calls int32
	r := NewResolver(zap.NewNop(), 3).WithLookup(func(ctx context.Context, host string) ([]net.IP, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("servfail")
	})

	tgt := hostTarget()
	if _, err := r.Resolve(context.Background(), tgt); err == nil {
		t.Fatal("want error")
	}
	// immediate retry lands inside the backoff window
	if _, err := r.Resolve(context.Background(), tgt); err == nil {
		t.Fatal("want backoff error")
	}
	if calls != 1 {
		t.Fatalf("backoff should suppress the second lookup, got %d", calls)
	}
}
