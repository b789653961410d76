package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/domain"
	"github.com/netprobe-io/netprobe/internal/notify"
	"github.com/netprobe-io/netprobe/internal/repo"
)

// Snapshotter is the read side of a running session.
type Snapshotter interface {
	SnapshotAll() map[domain.TargetID]domain.TargetStats
}

type Config struct {
	// LossThreshold is the windowed loss ratio at or above which a target is
	// considered down.
	LossThreshold   float64
	AlertOnRecovery bool
	Cooldown        time.Duration
	PollInterval    time.Duration
	// MinSamples suppresses judgement until the window has some data.
	MinSamples int
}

// Alerter periodically reads session snapshots and notifies when a target
// crosses the loss threshold in either direction. Alert state lives in an
// AlertStore so cooldowns survive restarts.
type Alerter struct {
	log      *zap.Logger
	src      Snapshotter
	alertDB  repo.AlertStore
	notifier notify.Notifier
	cfg      Config
}

func New(log *zap.Logger, src Snapshotter, alertDB repo.AlertStore, notifier notify.Notifier, cfg Config) *Alerter {
	if cfg.LossThreshold <= 0 || cfg.LossThreshold > 1 {
		cfg.LossThreshold = 0.5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 3
	}
	return &Alerter{log: log, src: src, alertDB: alertDB, notifier: notifier, cfg: cfg}
}

func (a *Alerter) Run(ctx context.Context) error {
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()

	_ = a.scanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			_ = a.scanOnce(ctx)
		}
	}
}

func (a *Alerter) scanOnce(ctx context.Context) error {
	snaps := a.src.SnapshotAll()
	now := time.Now()

	// deterministic scan order keeps logs and tests stable
	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := snaps[domain.TargetID(id)]
		if st.SampleCount < a.cfg.MinSamples {
			continue
		}
		healthy := st.LossRatio < a.cfg.LossThreshold

		rec, err := a.alertDB.Get(ctx, id)
		if err != nil {
			a.log.Warn("alert_state_read_error", zap.String("target_id", id), zap.Error(err))
			continue
		}
		stateChanged := rec == nil || rec.LastState != healthy

		// Cooldown only matters for DOWN alerts (suppresses noisy repeats).
		cooled := true
		if rec != nil && rec.LastSentAt != nil {
			cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
		}

		downAlert := stateChanged && !healthy && cooled
		recoveryAlert := stateChanged && healthy && a.cfg.AlertOnRecovery && rec != nil

		if downAlert || recoveryAlert {
			title := "🔴 Target DOWN"
			if healthy {
				title = "🟢 Target RECOVERED"
			}
			_ = a.notifier.Send(ctx, title, a.describe(id, st))
			if err := a.alertDB.Set(ctx, id, healthy, now); err != nil {
				a.log.Warn("alert_state_write_error", zap.String("target_id", id), zap.Error(err))
			}
			continue
		}

		// State changed but nothing sent (cooldown, or recovery alerts
		// disabled): record the new state without a send time.
		if stateChanged {
			_ = a.alertDB.Set(ctx, id, healthy, time.Time{})
		}
	}
	return nil
}

func (a *Alerter) describe(id string, st domain.TargetStats) string {
	meanTxt := "n/a"
	if st.Mean != nil {
		meanTxt = fmt.Sprintf("%.1f ms", *st.Mean)
	}
	return fmt.Sprintf(
		"Target: %s\nLoss: %.0f%% over last %d probes\nMean latency: %s",
		id, st.LossRatio*100, st.SampleCount, meanTxt,
	)
}
