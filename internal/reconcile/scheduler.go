package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	errs "github.com/frahmantamala/partner-payout/internal"
	"github.com/frahmantamala/partner-payout/internal/core/events"
	"github.com/frahmantamala/partner-payout/internal/payout"
)

const sweepLeaseKey = "partner-payout:reconcile:sweep"

type SchedulerRepository interface {
	ListReconcilable(ctx context.Context, limit int) ([]string, error)
	ListStaleSubmitted(ctx context.Context, cutoff time.Time) ([]payout.Batch, error)
}

type SchedulerConfig struct {
	Interval   time.Duration
	Workers    int
	QueueSize  int
	BatchLimit int
	LeaseTTL   time.Duration
	StaleAfter time.Duration
	JobTimeout time.Duration
}

func (c *SchedulerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = c.Interval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = time.Minute
	}
}

// Scheduler feeds batches to a reconciler, from a periodic sweep and from
// submission events.
type Scheduler struct {
	repo       SchedulerRepository
	reconciler payout.Reconciler
	locker     Locker
	cfg        SchedulerConfig
	logger     *slog.Logger
	pool       *pool
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(repo SchedulerRepository, reconciler payout.Reconciler, locker Locker, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Scheduler{
		repo:       repo,
		reconciler: reconciler,
		locker:     locker,
		cfg:        cfg,
		logger:     logger,
		pool:       newPool(cfg.Workers, cfg.QueueSize, logger),
		now:        time.Now,
		inflight:   make(map[string]bool),
	}
}

// Start runs the worker pool and the sweep loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.pool.start(ctx, s.process)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.sweepAndLog(ctx)
		for {
			select {
			case <-ticker.C:
				s.sweepAndLog(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("reconcile scheduler started",
		"interval", s.cfg.Interval.String(),
		"batch_limit", s.cfg.BatchLimit)
}

func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.pool.wait()
	s.logger.Info("reconcile scheduler stopped")
}

func (s *Scheduler) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("reconcile sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("reconcile sweep enqueued batches", "count", n)
	}
}

// Sweep enqueues every accepted batch that still has items in flight. Only
// the holder of the sweep lease does any work.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	lease, ok, err := s.locker.TryLock(ctx, sweepLeaseKey, s.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.logger.Debug("reconcile sweep lease held elsewhere")
		return 0, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release sweep lease", "error", err)
		}
	}()

	s.warnStale(ctx)

	ids, err := s.repo.ListReconcilable(ctx, s.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, id := range ids {
		if s.enqueue(Job{BatchID: id, Reason: "sweep"}) {
			enqueued++
		}
	}
	return enqueued, nil
}

func (s *Scheduler) warnStale(ctx context.Context) {
	stale, err := s.repo.ListStaleSubmitted(ctx, s.now().Add(-s.cfg.StaleAfter))
	if err != nil {
		s.logger.Error("failed to list stale batches", "error", err)
		return
	}
	for _, b := range stale {
		s.logger.Warn("batch reserved funds but has no gateway id, needs admin release or gateway lookup",
			"batch_id", b.ID,
			"idempotency_key", b.IdempotencyKey,
			"submitted_at", b.SubmittedAt)
	}
}

// Nudge schedules a batch right away.
func (s *Scheduler) Nudge(batchID string) bool {
	return s.enqueue(Job{BatchID: batchID, Reason: "nudge"})
}

// Subscribe nudges every batch the gateway has just accepted.
func (s *Scheduler) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeBatchSubmitted, s.HandleBatchSubmitted)
}

// HandleBatchSubmitted is an events.Handler for freshly accepted batches.
func (s *Scheduler) HandleBatchSubmitted(_ context.Context, event events.Event) error {
	submitted, ok := event.(*events.BatchSubmittedEvent)
	if !ok {
		return nil
	}
	s.Nudge(submitted.BatchID)
	return nil
}

func (s *Scheduler) enqueue(job Job) bool {
	s.mu.Lock()
	if s.inflight[job.BatchID] {
		s.mu.Unlock()
		return false
	}
	s.inflight[job.BatchID] = true
	s.mu.Unlock()

	if !s.pool.enqueue(job) {
		s.finish(job.BatchID)
		s.logger.Warn("reconcile queue full, dropping job until next sweep",
			"batch_id", job.BatchID,
			"reason", job.Reason)
		return false
	}
	return true
}

func (s *Scheduler) finish(batchID string) {
	s.mu.Lock()
	delete(s.inflight, batchID)
	s.mu.Unlock()
}

func (s *Scheduler) process(ctx context.Context, job Job) {
	defer s.finish(job.BatchID)

	jobCtx, cancel := errs.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	result, err := s.reconciler.Reconcile(jobCtx, job.BatchID)
	if err != nil {
		s.logger.Error("scheduled reconcile failed", "batch_id", job.BatchID, "reason", job.Reason, "error", err)
		return
	}
	s.logger.Debug("scheduled reconcile finished",
		"batch_id", job.BatchID,
		"status", result.Status,
		"applied", result.Applied)
}
