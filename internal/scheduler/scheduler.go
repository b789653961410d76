package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/netprobe-io/netprobe/internal/domain"
	"github.com/netprobe-io/netprobe/internal/probe"
)

// Executor runs one probe to completion or timeout.
type Executor interface {
	Execute(ctx context.Context, p probe.Probe) domain.ProbeResult
}

type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
	// MaxTicks bounds the run to a fixed number of ticks; 0 means continuous.
	MaxTicks int
}

// Scheduler issues probes at a fixed cadence. Dispatch goes through a single
// FIFO queue so attempts leave in arrival order (config order within a tick),
// and a weighted semaphore caps how many probes execute at once. A target
// whose previous probe has not resolved is skipped on the tick (coalescing),
// which also keeps per-target result order equal to issue order.
type Scheduler struct {
	log     *zap.Logger
	exec    Executor
	targets []domain.Target
	cfg     Config
	results chan<- domain.ProbeResult

	sem   *semaphore.Weighted
	queue chan probe.Probe

	mu       sync.Mutex
	inflight map[domain.TargetID]bool

	wg          sync.WaitGroup
	outstanding atomic.Int64
	discarded   atomic.Int64

	abandon     chan struct{}
	abandonOnce sync.Once
	done        chan struct{}
}

func New(log *zap.Logger, exec Executor, targets []domain.Target, cfg Config, results chan<- domain.ProbeResult) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Scheduler{
		log:     log,
		exec:    exec,
		targets: targets,
		cfg:     cfg,
		results: results,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		// coalescing caps queued+running at one per target
		queue:    make(chan probe.Probe, len(targets)),
		inflight: make(map[domain.TargetID]bool, len(targets)),
		abandon:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run drives the tick loop until ctx is cancelled or MaxTicks is reached. It
// does an immediate pass, then one pass per interval. Returning stops new
// dispatches only; probes already queued or executing resolve on their own.
func (s *Scheduler) Run(ctx context.Context) {
	go s.dispatchLoop()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer close(s.queue)

	ticks := 0
	s.tick(time.Now().UTC())
	ticks++

	for s.cfg.MaxTicks == 0 || ticks < s.cfg.MaxTicks {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler_stopped", zap.Int("ticks", ticks))
			return
		case now := <-ticker.C:
			s.tick(now.UTC())
			ticks++
		}
	}
	s.log.Info("scheduler_completed", zap.Int("ticks", ticks))
}

func (s *Scheduler) tick(now time.Time) {
	for _, t := range s.targets {
		s.mu.Lock()
		if s.inflight[t.ID] {
			s.mu.Unlock()
			continue
		}
		s.inflight[t.ID] = true
		s.mu.Unlock()

		s.outstanding.Add(1)
		s.wg.Add(1)
		s.queue <- probe.Probe{Target: t, IssuedAt: now, Timeout: s.cfg.Timeout}
	}
}

// dispatchLoop pops queued probes in FIFO order, blocking on a permit when
// the concurrency bound is exhausted. Nothing is ever dropped.
func (s *Scheduler) dispatchLoop() {
	for p := range s.queue {
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			// cannot happen with a background context; keep the probe
			// accounted for anyway
			s.finish(p.Target.ID)
			continue
		}
		go s.worker(p)
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()
}

func (s *Scheduler) worker(p probe.Probe) {
	defer s.sem.Release(1)

	// stop() is cooperative: the probe keeps its own timeout and is never
	// interrupted, so Execute gets a fresh context here.
	res := s.exec.Execute(context.Background(), p)

	// abandon wins over delivery: once the session hit its shutdown
	// deadline the result must not reach the aggregator
	select {
	case <-s.abandon:
		s.discard(p.Target.ID)
	default:
		select {
		case s.results <- res:
		case <-s.abandon:
			s.discard(p.Target.ID)
		}
	}
	s.finish(p.Target.ID)
}

func (s *Scheduler) discard(id domain.TargetID) {
	s.discarded.Add(1)
	s.log.Debug("result_discarded", zap.String("target_id", string(id)))
}

func (s *Scheduler) finish(id domain.TargetID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
	s.outstanding.Add(-1)
	s.wg.Done()
}

// Done is closed once the tick loop has exited and every issued probe has
// resolved and delivered (or discarded) its result.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Outstanding reports probes issued but not yet fully resolved.
func (s *Scheduler) Outstanding() int {
	return int(s.outstanding.Load())
}

// Discarded reports results thrown away after Abandon. Exact only once Done
// is closed.
func (s *Scheduler) Discarded() int {
	return int(s.discarded.Load())
}

// Abandon unblocks workers stuck delivering results after the session gave
// up waiting. Safe to call more than once.
func (s *Scheduler) Abandon() {
	s.abandonOnce.Do(func() { close(s.abandon) })
}
