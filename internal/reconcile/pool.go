package reconcile

import (
	"context"
	"log/slog"
	"sync"
)

type Job struct {
	BatchID string
	Reason  string
}

type poolWorker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func newPoolWorker(id int, workerPool chan chan Job, logger *slog.Logger) *poolWorker {
	return &poolWorker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *poolWorker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("reconcile worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("reconcile worker picked job", "worker_id", w.ID, "batch_id", job.BatchID, "reason", job.Reason)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("reconcile worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// pool fans queued jobs out to a fixed set of workers.
type pool struct {
	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func newPool(maxWorkers, queueSize int, logger *slog.Logger) *pool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &pool{
		jobQueue:   make(chan Job, queueSize),
		workerPool: make(chan chan Job, maxWorkers),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

func (p *pool) start(ctx context.Context, processFunc func(context.Context, Job)) {
	for i := 0; i < p.maxWorkers; i++ {
		newPoolWorker(i, p.workerPool, p.logger).Start(ctx, &p.wg, processFunc)
	}

	p.wg.Add(1)
	go p.dispatch(ctx)

	p.logger.Info("reconcile worker pool started",
		"max_workers", p.maxWorkers,
		"queue_size", cap(p.jobQueue))
}

func (p *pool) dispatch(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
				case <-ctx.Done():
					p.logger.Info("reconcile dispatcher shutting down")
					return
				}
			case <-ctx.Done():
				p.logger.Info("reconcile dispatcher shutting down")
				return
			}
		case <-ctx.Done():
			p.logger.Info("reconcile dispatcher shutting down")
			return
		}
	}
}

// enqueue never blocks; a full queue drops the job.
func (p *pool) enqueue(job Job) bool {
	select {
	case p.jobQueue <- job:
		return true
	default:
		return false
	}
}

func (p *pool) wait() {
	p.wg.Wait()
}
