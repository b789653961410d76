package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/aggregate"
	"github.com/netprobe-io/netprobe/internal/domain"
	"github.com/netprobe-io/netprobe/internal/probe"
	"github.com/netprobe-io/netprobe/internal/scheduler"
)

// State is the session lifecycle. Transitions only move forward: a stopped
// session keeps serving its last snapshots but cannot be restarted;
// reconfiguration means creating a new session.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrNotIdle       = errors.New("session already started")
)

type Config struct {
	Targets     []domain.Target
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int

	// Duration bounds a run by wall clock; MaxTicks by tick count. Zero for
	// both means continuous until Stop.
	Duration time.Duration
	MaxTicks int

	Window               int
	ResolveFailThreshold int
}

func (c Config) validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: no targets", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency_bound must be >= 1", ErrInvalidConfig)
	}
	seen := make(map[domain.TargetID]bool, len(c.Targets))
	for _, t := range c.Targets {
		if t.ID == "" || t.Address == "" {
			return fmt.Errorf("%w: target id and address required", ErrInvalidConfig)
		}
		if !t.Kind.Valid() {
			return fmt.Errorf("%w: unknown probe kind %q", ErrInvalidConfig, t.Kind)
		}
		if t.Kind == domain.KindTCP && (t.Port < 1 || t.Port > 65535) {
			return fmt.Errorf("%w: tcp target %s needs a port", ErrInvalidConfig, t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate target id %s", ErrInvalidConfig, t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Session owns one scheduler/aggregator pair for a bounded or continuous run.
type Session struct {
	ID  string
	log *zap.Logger
	cfg Config

	agg     *aggregate.Aggregator
	sched   *scheduler.Scheduler
	results chan domain.ProbeResult

	mu        sync.Mutex
	state     State
	abandoned int

	stopOnce sync.Once
	doneOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	subMu  sync.Mutex
	subSeq int
	subs   map[int]chan domain.ProbeResult
}

// Configure builds a session with the real probers wired in. This is the
// entry point external callers (API, CLI) use.
func Configure(log *zap.Logger, cfg Config) (*Session, error) {
	resolver := probe.NewResolver(log, cfg.ResolveFailThreshold)
	exec := probe.NewExecutor(log, resolver, probe.DefaultProbers())
	return New(log, exec, cfg)
}

// New is Configure with an injectable executor.
func New(log *zap.Logger, exec scheduler.Executor, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	// handoff queue capacity equals the concurrency bound: if the consume
	// loop falls behind, executor completions block briefly instead of
	// growing memory
	results := make(chan domain.ProbeResult, cfg.Concurrency)

	s := &Session{
		ID:      uuid.NewString(),
		log:     log,
		cfg:     cfg,
		agg:     aggregate.New(log, cfg.Targets, cfg.Window),
		results: results,
		state:   StateIdle,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		subs:    make(map[int]chan domain.ProbeResult),
	}
	s.sched = scheduler.New(log, exec, cfg.Targets, scheduler.Config{
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		Concurrency: cfg.Concurrency,
		MaxTicks:    cfg.MaxTicks,
	}, results)
	return s, nil
}

// Start transitions Idle→Running and launches the run. It fails on any other
// state.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w (state %s)", ErrNotIdle, s.state)
	}
	s.state = StateRunning
	go s.run()
	return nil
}

// Stop requests a cooperative shutdown: no new ticks, in-flight probes
// resolve on their own timeouts. Idempotent; extra calls are no-ops.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		// never started: go terminal immediately
		s.state = StateStopped
		s.mu.Unlock()
		s.stopOnce.Do(func() { close(s.stopCh) })
		s.closeSubscribers()
		s.doneOnce.Do(func() { close(s.doneCh) })
		return
	case StateRunning:
		s.state = StateStopping
	}
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Wait blocks until the session reaches Stopped.
func (s *Session) Wait() {
	<-s.doneCh
}

// Done is closed when the session reaches Stopped.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Abandoned reports probes still outstanding when the shutdown deadline
// expired; their results were discarded.
func (s *Session) Abandoned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned
}

// Snapshot returns a copy of one target's stats, nil for unknown targets.
// Readable in any state; last known values persist after Stopped.
func (s *Session) Snapshot(id domain.TargetID) *domain.TargetStats {
	return s.agg.Snapshot(id)
}

func (s *Session) SnapshotAll() map[domain.TargetID]domain.TargetStats {
	return s.agg.SnapshotAll()
}

func (s *Session) run() {
	schedCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if s.cfg.Duration > 0 {
		var tcancel context.CancelFunc
		schedCtx, tcancel = context.WithTimeout(schedCtx, s.cfg.Duration)
		defer tcancel()
	}
	// the watcher must also exit when the run ends on its own (MaxTicks or
	// Duration) and Stop is never called
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-schedCtx.Done():
		}
	}()

	sealCh := make(chan struct{})
	consumed := make(chan struct{})
	go s.consume(sealCh, consumed)

	s.sched.Run(schedCtx)

	// the tick loop stopped; give in-flight probes until the hard deadline
	deadline := 2 * s.cfg.Timeout
	select {
	case <-s.sched.Done():
	case <-time.After(deadline):
		s.sched.Abandon()
		<-s.sched.Done()
		// exact: the scheduler counted every discard itself, so a worker
		// finishing right at the deadline is not misreported
		n := s.sched.Discarded()
		s.mu.Lock()
		s.abandoned = n
		s.mu.Unlock()
		s.log.Warn("probes_abandoned_at_shutdown",
			zap.String("session_id", s.ID),
			zap.Int("abandoned", n),
		)
	}

	// all senders are finished; let the consumer drain what is buffered
	close(sealCh)
	<-consumed

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.closeSubscribers()
	s.doneOnce.Do(func() { close(s.doneCh) })
	s.log.Info("session_stopped",
		zap.String("session_id", s.ID),
		zap.Int("abandoned", s.Abandoned()),
	)
}

// consume is the aggregator's single-writer loop.
func (s *Session) consume(seal, done chan struct{}) {
	defer close(done)
	for {
		select {
		case r := <-s.results:
			s.agg.Record(r)
			s.publish(r)
		case <-seal:
			for {
				select {
				case r := <-s.results:
					s.agg.Record(r)
					s.publish(r)
				default:
					return
				}
			}
		}
	}
}
