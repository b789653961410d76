package memory

import (
	"context"
	"testing"
	"time"

	"github.com/netprobe-io/netprobe/internal/domain"
)

func TestMemoryStore_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 3; i++ {
		r := &domain.ProbeResult{
			TargetID:    "T1",
			Success:     true,
			LatencyMS:   float64(10 + i),
			CompletedAt: time.Now().UTC(),
		}
		if err := s.Append(ctx, "sess-1", r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	_ = s.Append(ctx, "sess-1", &domain.ProbeResult{TargetID: "T2", Success: false})

	got, err := s.RecentByTarget(ctx, "T1", 2)
	if err != nil {
		t.Fatalf("RecentByTarget: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 rows, got %d", len(got))
	}
	// newest first
	if got[0].LatencyMS != 12 || got[1].LatencyMS != 11 {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMemoryStore_AlertRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec, err := s.Get(ctx, "T1")
	if err != nil || rec != nil {
		t.Fatalf("want nil,nil before set, got %+v, %v", rec, err)
	}

	now := time.Now().UTC()
	if err := s.Set(ctx, "T1", false, now); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rec, err = s.Get(ctx, "T1")
	if err != nil || rec == nil {
		t.Fatalf("Get: %+v, %v", rec, err)
	}
	if rec.LastState || rec.LastSentAt == nil || !rec.LastSentAt.Equal(now) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// zero sentAt keeps last_sent_at empty
	if err := s.Set(ctx, "T2", true, time.Time{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rec, _ = s.Get(ctx, "T2")
	if rec.LastSentAt != nil {
		t.Fatalf("want nil LastSentAt, got %v", rec.LastSentAt)
	}
}
