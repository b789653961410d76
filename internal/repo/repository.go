package repo

import (
	"context"

	"github.com/netprobe-io/netprobe/internal/domain"
)

// Ports (interfaces) — swap in any DB adapter later.

// ResultStore persists completed probe results for later inspection.
type ResultStore interface {
	Append(ctx context.Context, sessionID string, r *domain.ProbeResult) error
	// RecentByTarget returns the newest results first, at most limit rows.
	RecentByTarget(ctx context.Context, id domain.TargetID, limit int) ([]domain.ProbeResult, error)
}
