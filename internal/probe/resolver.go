package probe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/domain"
)

const (
	// DefaultFailThreshold is how many consecutive probe failures invalidate
	// a target's cached address and force a fresh lookup.
	DefaultFailThreshold = 3

	defaultBackoffBase = time.Second
	defaultBackoffCap  = time.Minute
)

// LookupFunc resolves a hostname; swapped for a fake in tests.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// Resolver caches one resolved address per target. All updates to a target's
// entry happen under that entry's lock, so concurrent executors never race to
// re-resolve the same target. Failed lookups back off exponentially up to a
// cap; a target that keeps failing stays in rotation and reports
// ResolutionFailed samples.
type Resolver struct {
	log           *zap.Logger
	lookup        LookupFunc
	failThreshold int

	mu      sync.Mutex
	entries map[domain.TargetID]*resolveEntry
}

type resolveEntry struct {
	mu          sync.Mutex
	addr        string
	failStreak  int
	backoff     time.Duration
	nextAttempt time.Time
}

func NewResolver(log *zap.Logger, failThreshold int) *Resolver {
	if failThreshold < 1 {
		failThreshold = DefaultFailThreshold
	}
	r := &net.Resolver{} // OS resolver
	return &Resolver{
		log:           log,
		failThreshold: failThreshold,
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			return r.LookupIP(ctx, "ip", host)
		},
		entries: make(map[domain.TargetID]*resolveEntry),
	}
}

// WithLookup replaces the lookup function. Test hook.
func (r *Resolver) WithLookup(fn LookupFunc) *Resolver {
	r.lookup = fn
	return r
}

func (r *Resolver) entry(id domain.TargetID) *resolveEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	if e == nil {
		e = &resolveEntry{}
		r.entries[id] = e
	}
	return e
}

// Resolve returns the address to probe for t. IP literals pass through
// untouched; hostnames are resolved once and served from cache until probe
// failures invalidate it.
func (r *Resolver) Resolve(ctx context.Context, t domain.Target) (string, error) {
	if ip := net.ParseIP(t.Address); ip != nil {
		return t.Address, nil
	}

	e := r.entry(t.ID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.addr != "" {
		return e.addr, nil
	}

	now := time.Now()
	if now.Before(e.nextAttempt) {
		return "", fmt.Errorf("resolve %s: backing off until %s", t.Address, e.nextAttempt.Format(time.RFC3339))
	}

	ips, err := r.lookup(ctx, t.Address)
	if err != nil || len(ips) == 0 {
		if e.backoff == 0 {
			e.backoff = defaultBackoffBase
		} else {
			e.backoff *= 2
			if e.backoff > defaultBackoffCap {
				e.backoff = defaultBackoffCap
			}
		}
		e.nextAttempt = now.Add(e.backoff)
		if err == nil {
			err = fmt.Errorf("no addresses")
		}
		r.log.Warn("resolve_failed",
			zap.String("target_id", string(t.ID)),
			zap.String("address", t.Address),
			zap.Duration("backoff", e.backoff),
			zap.Error(err),
		)
		return "", fmt.Errorf("resolve %s: %w", t.Address, err)
	}

	e.addr = ips[0].String()
	e.backoff = 0
	e.nextAttempt = time.Time{}
	return e.addr, nil
}

// ReportResult feeds probe outcomes back into the cache. After failThreshold
// consecutive failures the cached address is dropped so the next probe
// re-resolves. This is the only mutation executors make to shared target
// state.
func (r *Resolver) ReportResult(id domain.TargetID, success bool) {
	e := r.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if success {
		e.failStreak = 0
		return
	}
	e.failStreak++
	if e.failStreak >= r.failThreshold && e.addr != "" {
		r.log.Info("invalidating_cached_address",
			zap.String("target_id", string(id)),
			zap.String("addr", e.addr),
			zap.Int("fail_streak", e.failStreak),
		)
		e.addr = ""
		e.failStreak = 0
	}
}
