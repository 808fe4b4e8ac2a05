// Package worker pulls queued jobs off the redis queue and dispatches
// them to the test orchestrator or the intelligence pipeline.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/pkg/intelligence"
	"github.com/huntplane/huntplane/pkg/types"
	"github.com/huntplane/huntplane/pkg/vulntest"
)

const (
	maxJobRetries  = 3
	errorBackoff   = 5 * time.Second
	emptyQueueWait = 1 * time.Second
	jobTimeout     = 10 * time.Minute
)

type worker struct {
	id           string
	hostname     string
	queue        core.JobQueue
	store        core.Store
	orchestrator *vulntest.Orchestrator
	pipeline     *intelligence.Pipeline
	telemetry    core.Telemetry
	logger       *logger.Logger

	status   types.WorkerStatus
	statusMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(
	queue core.JobQueue,
	store core.Store,
	orchestrator *vulntest.Orchestrator,
	pipeline *intelligence.Pipeline,
	telemetry core.Telemetry,
	log *logger.Logger,
) core.Worker {
	workerID := uuid.New().String()
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	return &worker{
		id:           workerID,
		hostname:     hostname,
		queue:        queue,
		store:        store,
		orchestrator: orchestrator,
		pipeline:     pipeline,
		telemetry:    telemetry,
		logger: log.WithComponent("worker").WithFields(
			"worker_id", workerID,
			"hostname", hostname,
		),
		done: make(chan struct{}),
		status: types.WorkerStatus{
			Status: "idle",
		},
	}
}

func (w *worker) ID() string {
	return w.id
}

func (w *worker) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.updateStatus("active", "")
	w.logger.Infow("Worker started")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.LogPanic(w.ctx, r, "worker.run")
			}
		}()
		w.run()
	}()

	return nil
}

func (w *worker) Stop() error {
	w.logger.Infow("Stopping worker",
		"current_status", w.Status().Status,
		"jobs_completed", w.Status().JobsComplete,
	)

	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.done:
		w.logger.Infow("Worker stopped gracefully")
	case <-time.After(30 * time.Second):
		w.logger.Warnw("Worker stop timeout, forcing shutdown")
	}

	w.updateStatus("stopped", "")
	return nil
}

func (w *worker) Status() *types.WorkerStatus {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()

	status := w.status
	status.ID = w.id
	status.Hostname = w.hostname
	status.LastPing = time.Now()
	return &status
}

func (w *worker) run() {
	defer close(w.done)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	errorCount := 0

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Infow("Worker shutting down", "total_errors", errorCount)
			return

		case <-ticker.C:
			w.telemetry.RecordWorkerMetrics(w.Status())

		default:
			if err := w.processNext(); err != nil {
				errorCount++
				w.logger.LogError(w.ctx, err, "worker.processNext", "total_errors", errorCount)
				select {
				case <-time.After(errorBackoff):
				case <-w.ctx.Done():
					return
				}
			}
		}
	}
}

// processNext pops and handles one job. A nil pop means an empty
// queue; the worker sleeps briefly rather than spinning.
func (w *worker) processNext() error {
	job, err := w.queue.Pop(w.ctx, w.id)
	if err != nil {
		return fmt.Errorf("failed to pop job: %w", err)
	}
	if job == nil {
		select {
		case <-time.After(emptyQueueWait):
		case <-w.ctx.Done():
		}
		return nil
	}

	w.updateStatus("processing", job.ID)
	defer w.updateStatus("idle", "")

	log := w.logger.WithJobID(job.ID)
	log.Infow("Processing job", "kind", job.Kind, "retries", job.Retries)

	jobCtx, cancel := context.WithTimeout(w.ctx, jobTimeout)
	defer cancel()

	execErr := w.executeJob(jobCtx, job)
	if execErr != nil {
		log.LogError(jobCtx, execErr, "worker.executeJob", "kind", job.Kind)
		if job.Retries < maxJobRetries {
			if retryErr := w.queue.Retry(w.ctx, job.ID); retryErr != nil {
				log.LogError(w.ctx, retryErr, "worker.queue.retry")
			}
		} else {
			if failErr := w.queue.Fail(w.ctx, job.ID, execErr.Error()); failErr != nil {
				log.LogError(w.ctx, failErr, "worker.queue.fail")
			}
			log.Warnw("Job failed after max retries", "error", execErr.Error())
		}
		return nil
	}

	if err := w.queue.Complete(w.ctx, job.ID); err != nil {
		log.LogError(w.ctx, err, "worker.queue.complete")
	}
	w.incrementJobsComplete()
	log.Infow("Job completed", "kind", job.Kind)
	return nil
}

func (w *worker) executeJob(ctx context.Context, job *types.QueueJob) error {
	switch job.Kind {
	case types.QueueKindTest:
		jobID, ok := job.Payload["test_job_id"].(string)
		if !ok || jobID == "" {
			return fmt.Errorf("invalid job payload: missing test_job_id")
		}
		testJob, err := w.store.GetTestJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("loading test job %s: %w", jobID, err)
		}
		if testJob.Status.Terminal() {
			w.logger.Infow("Skipping terminal test job", "job_id", jobID, "status", testJob.Status)
			return nil
		}
		return w.orchestrator.RunJob(ctx, testJob)

	case types.QueueKindIntelligence:
		jobID, ok := job.Payload["intelligence_job_id"].(string)
		if !ok || jobID == "" {
			return fmt.Errorf("invalid job payload: missing intelligence_job_id")
		}
		intelJob, err := w.store.GetIntelligenceJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("loading intelligence job %s: %w", jobID, err)
		}
		if intelJob.Status.Terminal() {
			w.logger.Infow("Skipping terminal intelligence job", "job_id", jobID, "status", intelJob.Status)
			return nil
		}
		return w.pipeline.Run(ctx, intelJob)

	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (w *worker) updateStatus(status, currentJob string) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.status.Status = status
	w.status.CurrentJob = currentJob
	w.status.LastPing = time.Now()
}

func (w *worker) incrementJobsComplete() {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.status.JobsComplete++
}
