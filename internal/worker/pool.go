package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/pkg/intelligence"
	"github.com/huntplane/huntplane/pkg/types"
	"github.com/huntplane/huntplane/pkg/vulntest"
)

type workerPool struct {
	workers      []core.Worker
	queue        core.JobQueue
	store        core.Store
	orchestrator *vulntest.Orchestrator
	pipeline     *intelligence.Pipeline
	telemetry    core.Telemetry
	logger       *logger.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorkerPool(
	queue core.JobQueue,
	store core.Store,
	orchestrator *vulntest.Orchestrator,
	pipeline *intelligence.Pipeline,
	telemetry core.Telemetry,
	log *logger.Logger,
) core.WorkerPool {
	return &workerPool{
		workers:      make([]core.Worker, 0),
		queue:        queue,
		store:        store,
		orchestrator: orchestrator,
		pipeline:     pipeline,
		telemetry:    telemetry,
		logger:       log.WithComponent("worker-pool"),
	}
}

func (p *workerPool) Start(ctx context.Context, workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != nil {
		return fmt.Errorf("worker pool already started")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.logger.Infow("Starting worker pool", "workers", workerCount)

	for i := 0; i < workerCount; i++ {
		worker := NewWorker(p.queue, p.store, p.orchestrator, p.pipeline, p.telemetry, p.logger)
		if err := worker.Start(p.ctx); err != nil {
			p.stopAll()
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}
		p.workers = append(p.workers, worker)
	}

	p.logger.Infow("Worker pool started", "workers", len(p.workers))
	return nil
}

func (p *workerPool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return fmt.Errorf("worker pool not started")
	}

	p.logger.Info("Stopping worker pool")
	p.cancel()
	return p.stopAll()
}

func (p *workerPool) Status() []*types.WorkerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]*types.WorkerStatus, 0, len(p.workers))
	for _, worker := range p.workers {
		statuses = append(statuses, worker.Status())
	}
	return statuses
}

func (p *workerPool) stopAll() error {
	g := new(errgroup.Group)
	for _, worker := range p.workers {
		w := worker
		g.Go(func() error {
			return w.Stop()
		})
	}

	err := g.Wait()
	p.workers = nil
	p.ctx = nil
	p.cancel = nil
	return err
}
