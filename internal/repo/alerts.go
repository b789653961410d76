package repo

import (
	"context"
	"time"
)

// AlertRecord holds the last-known health state and the last time we sent a
// notification for a target; last_sent_at drives the cooldown.
type AlertRecord struct {
	TargetID   string
	LastState  bool // true = healthy
	LastSentAt *time.Time
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, targetID string) (*AlertRecord, error)
	// Set upserts the record. If sentAt.IsZero() last_sent_at stays NULL.
	Set(ctx context.Context, targetID string, lastState bool, sentAt time.Time) error
}
