package payment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/payment"
)

const (
	DefaultReconcileWorkers = 4
	DefaultReconcileLimit   = 200
)

type ReconcileJob struct {
	TransactionID string
	PaymentID     int64
}

type Worker struct {
	ID         int
	WorkerPool chan chan ReconcileJob
	JobChannel chan ReconcileJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan ReconcileJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan ReconcileJob),
		Logger:     logger,
	}
}

// Start registers the worker's job channel with the pool, runs one job per
// registration and exits when ctx is cancelled.
func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(ReconcileJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "transaction_id", job.TransactionID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type ReconcilerConfig struct {
	MaxWorkers int
	Limit      int
	Statuses   []string
}

// Reconciler polls the gateway for payments stuck in a non-final status,
// for deployments where webhooks are lost or arrive late.
type Reconciler struct {
	service    *Service
	repo       RepositoryAPI
	maxWorkers int
	limit      int
	statuses   []string
	logger     *slog.Logger
}

func NewReconciler(service *Service, repo RepositoryAPI, config ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultReconcileWorkers
	}
	if config.Limit <= 0 {
		config.Limit = DefaultReconcileLimit
	}
	if len(config.Statuses) == 0 {
		config.Statuses = []string{payment.StatusPending}
	}

	return &Reconciler{
		service:    service,
		repo:       repo,
		maxWorkers: config.MaxWorkers,
		limit:      config.Limit,
		statuses:   config.Statuses,
		logger:     logger,
	}
}

// Run polls every candidate once. A failed poll is counted and logged, never retried.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileSummary, error) {
	jobs, err := r.candidates(ctx)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{Scanned: len(jobs)}
	if len(jobs) == 0 {
		r.logger.Info("reconcile: nothing to do", "statuses", r.statuses)
		return summary, nil
	}

	var updated, failed int64
	process := func(job ReconcileJob) {
		_, rows, err := r.service.poll(ctx, job.TransactionID, SourceReconcile)
		if err != nil {
			atomic.AddInt64(&failed, 1)
			r.logger.Warn("reconcile: poll failed", "transaction_id", job.TransactionID, "error", err)
			return
		}
		if rows > 0 {
			atomic.AddInt64(&updated, 1)
		}
	}

	workerCtx, stop := context.WithCancel(context.Background())
	workerPool := make(chan chan ReconcileJob, r.maxWorkers)
	var workers sync.WaitGroup
	var pending sync.WaitGroup

	for i := 0; i < r.maxWorkers; i++ {
		NewWorker(i, workerPool, r.logger).Start(workerCtx, &workers, func(job ReconcileJob) {
			defer pending.Done()
			process(job)
		})
	}

	r.logger.Info("reconcile: started", "candidates", len(jobs), "max_workers", r.maxWorkers)

dispatch:
	for _, job := range jobs {
		select {
		case jobChannel := <-workerPool:
			pending.Add(1)
			jobChannel <- job
		case <-ctx.Done():
			break dispatch
		}
	}

	pending.Wait()
	stop()
	workers.Wait()

	summary.Updated = int(atomic.LoadInt64(&updated))
	summary.Failed = int(atomic.LoadInt64(&failed))

	r.logger.Info("reconcile: finished",
		"scanned", summary.Scanned,
		"updated", summary.Updated,
		"failed", summary.Failed)

	return summary, ctx.Err()
}

func (r *Reconciler) candidates(ctx context.Context) ([]ReconcileJob, error) {
	seen := make(map[string]struct{})
	var jobs []ReconcileJob

	for _, status := range r.statuses {
		rows, err := r.repo.ListByStatus(ctx, status, r.limit)
		if err != nil {
			r.logger.Error("reconcile: failed to list payments", "status", status, "error", err)
			return nil, err
		}
		for _, p := range rows {
			if _, dup := seen[p.TransactionID]; dup {
				continue
			}
			seen[p.TransactionID] = struct{}{}
			jobs = append(jobs, ReconcileJob{TransactionID: p.TransactionID, PaymentID: p.ID})
		}
	}
	return jobs, nil
}
