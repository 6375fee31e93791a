// Package scheduler runs the two periodic jobs the Trust Primitive
// depends on for liveness (C6, spec §4.6): a timeout sweep that expires
// negotiations past their deadline and escalates appeals past SLA, and
// a checkpoint job that anchors a window of receipts under a Merkle
// root. Grounded on the reference repo's pkg/governance (LivenessManager's
// ticker-driven sweep loop), generalized from a per-resource expiry
// watcher to a fleet-wide periodic sweep over the store.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/trustprimitive/core/pkg/appeal"
	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/negotiation"
	"github.com/trustprimitive/core/pkg/observability"
	"github.com/trustprimitive/core/pkg/receipts"
	"github.com/trustprimitive/core/pkg/store"
)

// Defaults per spec §4.6.
const (
	DefaultTimeoutInterval    = 5 * time.Minute
	DefaultCheckpointInterval = 30 * time.Minute
	defaultLeaseTTL           = 2 * time.Minute
)

// Scheduler owns the timeout-sweep and checkpoint jobs.
type Scheduler struct {
	store    store.Store
	engine   *negotiation.Engine
	appeals  *appeal.Service
	receipts *receipts.Ledger
	lease    Lease

	timeoutInterval    time.Duration
	checkpointInterval time.Duration
	leaseTTL           time.Duration

	clock func() time.Time
	log   *slog.Logger
	obs   *observability.Provider

	// limiters throttles tick attempts per job so a misconfigured or
	// externally retriggered ticker can never stampede the store: at
	// most one execution per half-interval regardless of how often
	// runGuarded is invoked.
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// New constructs a Scheduler. lease may be an *InProcessLease (default,
// single-node) or a *RedisLease (multi-instance deployments).
func New(s store.Store, engine *negotiation.Engine, appeals *appeal.Service, ledger *receipts.Ledger, lease Lease) *Scheduler {
	return &Scheduler{
		store:              s,
		engine:             engine,
		appeals:            appeals,
		receipts:           ledger,
		lease:              lease,
		timeoutInterval:    DefaultTimeoutInterval,
		checkpointInterval: DefaultCheckpointInterval,
		leaseTTL:           defaultLeaseTTL,
		clock:              time.Now,
		log:                slog.Default(),
		limiters:           make(map[string]*rate.Limiter),
	}
}

// WithIntervals overrides the default job periods.
func (s *Scheduler) WithIntervals(timeoutInterval, checkpointInterval time.Duration) *Scheduler {
	s.timeoutInterval = timeoutInterval
	s.checkpointInterval = checkpointInterval
	return s
}

// WithClock overrides the clock for deterministic testing.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// WithLogger overrides the logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.log = logger
	return s
}

// WithObservability wires a Provider so every executed job tick is
// wrapped in a span plus RED metrics.
func (s *Scheduler) WithObservability(obs *observability.Provider) *Scheduler {
	s.obs = obs
	return s
}

// Run blocks, driving both jobs on their own tickers until ctx is
// canceled. Each tick is independent: a slow or failing iteration
// delays only that job's next tick, never blocks the other.
func (s *Scheduler) Run(ctx context.Context) {
	timeoutTicker := time.NewTicker(s.timeoutInterval)
	checkpointTicker := time.NewTicker(s.checkpointInterval)
	defer timeoutTicker.Stop()
	defer checkpointTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeoutTicker.C:
			s.runGuarded(ctx, "timeout_sweep", s.RunTimeoutSweep)
		case <-checkpointTicker.C:
			s.runGuarded(ctx, "checkpoint", func(ctx context.Context) error { _, err := s.RunCheckpoint(ctx); return err })
		}
	}
}

func (s *Scheduler) runGuarded(ctx context.Context, name string, job func(context.Context) error) {
	if !s.limiterFor(name).Allow() {
		s.log.Debug("scheduler: tick throttled", "job", name)
		return
	}
	acquired, err := s.lease.TryAcquire(ctx, name, s.leaseTTL)
	if err != nil {
		s.log.Error("scheduler: lease acquire failed", "job", name, "error", err)
		return
	}
	if !acquired {
		s.log.Debug("scheduler: lease held elsewhere, skipping", "job", name)
		return
	}
	defer func() {
		if err := s.lease.Release(ctx, name); err != nil {
			s.log.Error("scheduler: lease release failed", "job", name, "error", err)
		}
	}()

	done := func(error) {}
	if s.obs != nil {
		ctx, done = s.obs.TrackTransition(ctx, "scheduler."+name)
	}
	err = job(ctx)
	done(err)
	if err != nil {
		s.log.Error("scheduler: job failed", "job", name, "error", err)
	}
}

func (s *Scheduler) limiterFor(name string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[name]
	if !ok {
		interval := s.timeoutInterval
		if name == "checkpoint" {
			interval = s.checkpointInterval
		}
		l = rate.NewLimiter(rate.Every(interval/2), 1)
		s.limiters[name] = l
	}
	return l
}

// RunTimeoutSweep expires every negotiation past its deadline and
// escalates every appeal past SLA (spec §4.6). Every negotiation and
// appeal is processed independently: one failure does not block the
// rest of the sweep.
func (s *Scheduler) RunTimeoutSweep(ctx context.Context) error {
	now := canonicalize.NewTimestamp(s.clock())
	expirable, err := s.store.ListExpirable(ctx, now)
	if err != nil {
		return err
	}
	for _, n := range expirable {
		if _, err := s.engine.Expire(ctx, n.NegotiationID); err != nil {
			s.log.Error("scheduler: expire failed", "negotiation_id", n.NegotiationID, "error", err)
		}
	}

	for _, status := range []contracts.AppealStatus{contracts.AppealPending, contracts.AppealReviewing} {
		appeals, err := s.store.ListAppealsByStatus(ctx, status)
		if err != nil {
			s.log.Error("scheduler: list appeals failed", "status", status, "error", err)
			continue
		}
		for _, a := range appeals {
			if _, err := s.appeals.Escalate(ctx, a.AppealID); err != nil {
				s.log.Error("scheduler: escalate failed", "appeal_id", a.AppealID, "error", err)
			}
		}
	}
	return nil
}

// RunCheckpoint anchors the receipts appended since the last checkpoint
// under a new Merkle root (spec §4.6/§9 Open Question #3).
func (s *Scheduler) RunCheckpoint(ctx context.Context) (store.Checkpoint, error) {
	from := canonicalize.NewTimestamp(time.Time{})
	if prev, err := s.store.LatestCheckpoint(ctx); err == nil {
		from = prev.WindowTo
	}
	to := canonicalize.NewTimestamp(s.clock())
	return s.receipts.Checkpoint(ctx, from, to)
}
