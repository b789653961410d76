package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netprobe-io/netprobe/internal/domain"
	"github.com/netprobe-io/netprobe/internal/repo"
)

var _ repo.ResultStore = (*Store)(nil)
var _ repo.AlertStore = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool new: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS probe_results (
	id           BIGSERIAL PRIMARY KEY,
	session_id   TEXT        NOT NULL,
	target_id    TEXT        NOT NULL,
	success      BOOLEAN     NOT NULL,
	latency_ms   DOUBLE PRECISION,
	throughput   DOUBLE PRECISION,
	cause        TEXT        NOT NULL DEFAULT '',
	message      TEXT        NOT NULL DEFAULT '',
	issued_at    TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS probe_results_target_idx
	ON probe_results (target_id, completed_at DESC);

CREATE TABLE IF NOT EXISTS alert_state (
	target_id    TEXT PRIMARY KEY,
	last_state   BOOLEAN NOT NULL,
	last_sent_at TIMESTAMPTZ
);`)
	return err
}

// ---- ResultStore ----

func (s *Store) Append(ctx context.Context, sessionID string, r *domain.ProbeResult) error {
	var lat, tput *float64
	if r.Success {
		if r.LatencyMS > 0 {
			v := r.LatencyMS
			lat = &v
		}
		if r.Throughput > 0 {
			v := r.Throughput
			tput = &v
		}
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO probe_results
	(session_id, target_id, success, latency_ms, throughput, cause, message, issued_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sessionID, string(r.TargetID), r.Success, lat, tput,
		string(r.Cause), r.Message, r.IssuedAt, r.CompletedAt,
	)
	return err
}

func (s *Store) RecentByTarget(ctx context.Context, id domain.TargetID, limit int) ([]domain.ProbeResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT target_id, success, latency_ms, throughput, cause, message, issued_at, completed_at
FROM probe_results
WHERE target_id = $1
ORDER BY completed_at DESC
LIMIT $2`, string(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProbeResult
	for rows.Next() {
		var (
			r         domain.ProbeResult
			tid       string
			lat, tput *float64
			cause     string
		)
		if err := rows.Scan(&tid, &r.Success, &lat, &tput, &cause, &r.Message, &r.IssuedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		r.TargetID = domain.TargetID(tid)
		r.Cause = domain.Cause(cause)
		if lat != nil {
			r.LatencyMS = *lat
		}
		if tput != nil {
			r.Throughput = *tput
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) Get(ctx context.Context, targetID string) (*repo.AlertRecord, error) {
	rec := repo.AlertRecord{TargetID: targetID}
	err := s.pool.QueryRow(ctx, `
SELECT last_state, last_sent_at FROM alert_state WHERE target_id = $1`,
		targetID,
	).Scan(&rec.LastState, &rec.LastSentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Set(ctx context.Context, targetID string, lastState bool, sentAt time.Time) error {
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO alert_state (target_id, last_state, last_sent_at)
VALUES ($1,$2,$3)
ON CONFLICT (target_id) DO UPDATE
SET last_state = EXCLUDED.last_state,
    last_sent_at = COALESCE(EXCLUDED.last_sent_at, alert_state.last_sent_at)`,
		targetID, lastState, ts,
	)
	return err
}
