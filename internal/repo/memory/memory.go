package memory

import (
	"context"
	"sync"
	"time"

	"github.com/netprobe-io/netprobe/internal/domain"
	"github.com/netprobe-io/netprobe/internal/repo"
)

const maxResults = 10_000

type Store struct {
	mu      sync.RWMutex
	results []storedResult
	alerts  map[string]repo.AlertRecord
}

type storedResult struct {
	sessionID string
	result    domain.ProbeResult
}

func New() *Store {
	return &Store{
		results: make([]storedResult, 0, 128),
		alerts:  make(map[string]repo.AlertRecord),
	}
}

func (m *Store) Append(ctx context.Context, sessionID string, r *domain.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, storedResult{sessionID: sessionID, result: *r})
	if len(m.results) > maxResults {
		// drop the oldest half rather than shifting on every append
		m.results = append(m.results[:0], m.results[len(m.results)/2:]...)
	}
	return nil
}

func (m *Store) RecentByTarget(ctx context.Context, id domain.TargetID, limit int) ([]domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ProbeResult, 0, limit)
	for i := len(m.results) - 1; i >= 0 && len(out) < limit; i-- {
		if m.results[i].result.TargetID == id {
			out = append(out, m.results[i].result)
		}
	}
	return out, nil
}

func (m *Store) Get(ctx context.Context, targetID string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.alerts[targetID]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *Store) Set(ctx context.Context, targetID string, lastState bool, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ts *time.Time
	if !sentAt.IsZero() {
		t := sentAt
		ts = &t
	}
	m.alerts[targetID] = repo.AlertRecord{TargetID: targetID, LastState: lastState, LastSentAt: ts}
	return nil
}
