package reconcile_test

import (
	"context"
	"sync"
	"time"

	"github.com/frahmantamala/partner-payout/internal/core/events"
	"github.com/frahmantamala/partner-payout/internal/payout"
	"github.com/frahmantamala/partner-payout/internal/reconcile"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type mockSweepRepository struct {
	ids         []string
	stale       []payout.Batch
	staleCutoff time.Time
}

func (m *mockSweepRepository) ListReconcilable(_ context.Context, limit int) ([]string, error) {
	if len(m.ids) > limit {
		return m.ids[:limit], nil
	}
	return m.ids, nil
}

func (m *mockSweepRepository) ListStaleSubmitted(_ context.Context, cutoff time.Time) ([]payout.Batch, error) {
	m.staleCutoff = cutoff
	return m.stale, nil
}

type recordingReconciler struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingReconciler) Reconcile(_ context.Context, batchID string) (*payout.ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, batchID)
	return &payout.ReconcileResult{Success: true, BatchID: batchID, Status: payout.BatchStatusProcessing}, nil
}

func (r *recordingReconciler) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type deniedLocker struct{}

func (deniedLocker) TryLock(context.Context, string, time.Duration) (reconcile.Lease, bool, error) {
	return nil, false, nil
}

var _ = Describe("Scheduler", func() {
	var (
		repo       *mockSweepRepository
		reconciler *recordingReconciler
		ctx        context.Context
	)

	BeforeEach(func() {
		repo = &mockSweepRepository{ids: []string{"b1", "b2", "b3"}}
		reconciler = &recordingReconciler{}
		ctx = context.Background()
	})

	It("enqueues every reconcilable batch once", func() {
		s := reconcile.NewScheduler(repo, reconciler, reconcile.NoopLocker{}, reconcile.SchedulerConfig{QueueSize: 10}, quietLogger())

		n, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		n, err = s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(s.Nudge("b1")).To(BeFalse())
	})

	It("respects the sweep batch limit", func() {
		s := reconcile.NewScheduler(repo, reconciler, nil, reconcile.SchedulerConfig{QueueSize: 10, BatchLimit: 2}, quietLogger())
		n, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("does nothing without the lease", func() {
		s := reconcile.NewScheduler(repo, reconciler, deniedLocker{}, reconcile.SchedulerConfig{}, quietLogger())
		n, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(repo.staleCutoff).To(BeZero())
	})

	It("drops jobs when the queue is full", func() {
		s := reconcile.NewScheduler(repo, reconciler, nil, reconcile.SchedulerConfig{QueueSize: 1}, quietLogger())
		Expect(s.Nudge("b1")).To(BeTrue())
		Expect(s.Nudge("b2")).To(BeFalse())
	})

	It("looks for stale batches older than the configured age", func() {
		s := reconcile.NewScheduler(repo, reconciler, nil, reconcile.SchedulerConfig{StaleAfter: time.Hour}, quietLogger())
		_, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.staleCutoff).To(BeTemporally("~", time.Now().Add(-time.Hour), time.Minute))
	})

	It("reconciles swept and freshly submitted batches once started", func() {
		bus := events.NewEventBus(quietLogger())
		s := reconcile.NewScheduler(repo, reconciler, nil, reconcile.SchedulerConfig{Workers: 2, Interval: time.Hour}, quietLogger())
		s.Subscribe(bus)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		s.Start(runCtx)
		defer s.Stop()

		Eventually(reconciler.Calls).Should(ConsistOf("b1", "b2", "b3"))

		Expect(bus.Publish(ctx, events.NewBatchSubmittedEvent("b9", "PP-9", 1, 100, "USD"))).To(Succeed())
		Eventually(reconciler.Calls).Should(ContainElement("b9"))
	})
})

var _ = Describe("NoopLocker", func() {
	It("always grants a releasable lease", func() {
		lease, ok, err := reconcile.NoopLocker{}.TryLock(context.Background(), "k", time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(lease.Release(context.Background())).To(Succeed())
	})
})
