package cmd

import (
	"context"
	"fmt"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/database"
	"github.com/huntplane/huntplane/internal/jobs"
	"github.com/huntplane/huntplane/internal/ratelimit"
	"github.com/huntplane/huntplane/internal/safety"
	"github.com/huntplane/huntplane/internal/scope"
	"github.com/huntplane/huntplane/internal/telemetry"
	"github.com/huntplane/huntplane/internal/worker"
	"github.com/huntplane/huntplane/pkg/intelligence"
	"github.com/huntplane/huntplane/pkg/vulntest"
)

// runtime holds the wired service graph shared by serve and workers.
type runtime struct {
	store     core.Store
	queue     core.JobQueue
	gate      core.SafetyGate
	telemetry core.Telemetry
	pool      core.WorkerPool
}

// buildRuntime connects storage, queue, safety gate, executor,
// orchestrator and pipeline from the loaded configuration.
func buildRuntime(ctx context.Context) (*runtime, error) {
	store, err := database.NewStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	queue, err := jobs.NewRedisQueue(cfg.Redis)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connecting job queue: %w", err)
	}

	telem, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		queue.Close()
		store.Close()
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	rules, err := scope.LoadRules(cfg.Security.ScopeFile)
	if err != nil {
		telem.Close()
		queue.Close()
		store.Close()
		return nil, fmt.Errorf("loading scope rules: %w", err)
	}

	gate := safety.NewGate(store, log)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.Testing.RequestsPerSecond,
		BurstSize:         cfg.Testing.BurstSize,
		MinDelay:          cfg.Testing.MinHostDelay,
	})
	executor := vulntest.NewExecutor(cfg.Testing, limiter, scope.NewValidator(rules), log)
	orchestrator := vulntest.NewOrchestrator(store, executor, gate, telem, log, cfg.Testing.MaxPayloadsPerJob)
	pipeline := intelligence.NewPipeline(store, log)
	pool := worker.NewWorkerPool(queue, store, orchestrator, pipeline, telem, log)

	return &runtime{
		store:     store,
		queue:     queue,
		gate:      gate,
		telemetry: telem,
		pool:      pool,
	}, nil
}

func (r *runtime) close() {
	if err := r.telemetry.Close(); err != nil {
		log.Warnw("Telemetry shutdown failed", "error", err)
	}
	if err := r.queue.Close(); err != nil {
		log.Warnw("Queue shutdown failed", "error", err)
	}
	if err := r.store.Close(); err != nil {
		log.Warnw("Store shutdown failed", "error", err)
	}
}
