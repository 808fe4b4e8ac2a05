// Package control implements the operator-facing actions of the
// system: candidate review, test submission, finding review, target
// state management and the kill switch. Every path that can cause
// outbound traffic goes through the safety gate before any job row is
// created.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/internal/safety"
	"github.com/huntplane/huntplane/pkg/types"
)

type Controller struct {
	store core.Store
	queue core.JobQueue
	gate  core.SafetyGate
	log   *logger.Logger
}

func NewController(store core.Store, queue core.JobQueue, gate core.SafetyGate, log *logger.Logger) *Controller {
	return &Controller{
		store: store,
		queue: queue,
		gate:  gate,
		log:   log.WithComponent("control"),
	}
}

// CreateTarget registers a new target in scope.
func (c *Controller) CreateTarget(ctx context.Context, name, domain string, rateLimit int) (*types.Target, error) {
	if name == "" || domain == "" {
		return nil, fmt.Errorf("target name and domain are required")
	}
	if rateLimit <= 0 {
		rateLimit = 10
	}
	target := &types.Target{
		ID:        uuid.New().String(),
		Name:      name,
		Domain:    domain,
		Enabled:   true,
		RateLimit: rateLimit,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.SaveTarget(ctx, target); err != nil {
		return nil, err
	}
	c.log.Infow("Target created", "target_id", target.ID, "domain", domain)
	return target, nil
}

// SubmitTest creates and enqueues a test job for an approved
// candidate. The safety gate and approval state are checked before any
// row exists, so a blocked submission leaves no trace in test_jobs.
func (c *Controller) SubmitTest(ctx context.Context, candidateID string) (*types.TestJob, error) {
	candidate, err := c.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("loading candidate: %w", err)
	}
	if err := c.gate.CanRun(ctx, candidate.TargetID); err != nil {
		return nil, err
	}
	if candidate.Rejected {
		return nil, &core.PolicyBlockedError{Reason: fmt.Sprintf("candidate %s was rejected", candidateID)}
	}
	if !candidate.ApprovedForTesting {
		return nil, &core.PolicyBlockedError{Reason: fmt.Sprintf("candidate %s is not approved for testing", candidateID)}
	}

	job := &types.TestJob{
		ID:          uuid.New().String(),
		CandidateID: candidate.ID,
		TargetID:    candidate.TargetID,
		Status:      types.JobCreated,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.SaveTestJob(ctx, job); err != nil {
		return nil, err
	}

	if err := c.queue.Push(ctx, &types.QueueJob{
		ID:   job.ID,
		Kind: types.QueueKindTest,
		Payload: map[string]interface{}{
			"test_job_id":  job.ID,
			"candidate_id": candidate.ID,
			"target_id":    candidate.TargetID,
		},
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("enqueueing test job: %w", err)
	}

	c.log.Infow("Test job submitted",
		"job_id", job.ID,
		"candidate_id", candidate.ID,
		"attack_type", candidate.AttackType,
	)
	return job, nil
}

// BatchSubmitApproved enqueues a test job for every approved,
// unrejected candidate of a target that has no job yet.
func (c *Controller) BatchSubmitApproved(ctx context.Context, targetID string) ([]*types.TestJob, error) {
	approved := true
	candidates, err := c.store.ListCandidates(ctx, core.CandidateFilter{
		TargetID:           targetID,
		ApprovedForTesting: &approved,
	})
	if err != nil {
		return nil, err
	}

	var jobs []*types.TestJob
	for _, candidate := range candidates {
		if candidate.Rejected {
			continue
		}
		existing, err := c.store.ListTestJobs(ctx, core.JobFilter{CandidateID: candidate.ID, Limit: 1})
		if err != nil {
			return jobs, err
		}
		if len(existing) > 0 {
			continue
		}
		job, err := c.SubmitTest(ctx, candidate.ID)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// SubmitIntelligencePass queues an intelligence job. The full safety
// gate applies: a kill switch, a disabled target or a paused target all
// block submission.
func (c *Controller) SubmitIntelligencePass(ctx context.Context, targetID string, stages []string) (*types.IntelligenceJob, error) {
	if _, err := c.store.GetTarget(ctx, targetID); err != nil {
		return nil, fmt.Errorf("loading target: %w", err)
	}
	if err := c.gate.CanRun(ctx, targetID); err != nil {
		return nil, err
	}
	for _, stage := range stages {
		switch stage {
		case types.StageClustering, types.StageParameters, types.StageAuth, types.StageDiffs, types.StageCandidates:
		default:
			return nil, fmt.Errorf("unknown stage %q", stage)
		}
	}

	job := &types.IntelligenceJob{
		ID:        uuid.New().String(),
		TargetID:  targetID,
		Stages:    stages,
		Status:    types.IntelQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.SaveIntelligenceJob(ctx, job); err != nil {
		return nil, err
	}

	if err := c.queue.Push(ctx, &types.QueueJob{
		ID:   job.ID,
		Kind: types.QueueKindIntelligence,
		Payload: map[string]interface{}{
			"intelligence_job_id": job.ID,
			"target_id":           targetID,
		},
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("enqueueing intelligence job: %w", err)
	}

	c.log.Infow("Intelligence pass submitted", "job_id", job.ID, "target_id", targetID, "stages", stages)
	return job, nil
}

// ApproveCandidate marks a candidate reviewed and approved for
// testing. Approval of a rejected candidate clears the rejection.
func (c *Controller) ApproveCandidate(ctx context.Context, candidateID, notes string) (*types.AttackCandidate, error) {
	candidate, err := c.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	candidate.Reviewed = true
	candidate.ApprovedForTesting = true
	candidate.Rejected = false
	candidate.ReviewedAt = &now
	if notes != "" {
		candidate.UserNotes = notes
	}
	if err := c.store.UpdateCandidate(ctx, candidate); err != nil {
		return nil, err
	}
	c.log.Infow("Candidate approved", "candidate_id", candidateID, "attack_type", candidate.AttackType)
	return candidate, nil
}

// RejectCandidate marks a candidate reviewed and rejected. Rejected
// candidates never reach the test queue.
func (c *Controller) RejectCandidate(ctx context.Context, candidateID, notes string) (*types.AttackCandidate, error) {
	candidate, err := c.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	candidate.Reviewed = true
	candidate.ApprovedForTesting = false
	candidate.Rejected = true
	candidate.ReviewedAt = &now
	if notes != "" {
		candidate.UserNotes = notes
	}
	if err := c.store.UpdateCandidate(ctx, candidate); err != nil {
		return nil, err
	}
	c.log.Infow("Candidate rejected", "candidate_id", candidateID)
	return candidate, nil
}

// AddCandidateNote appends operator notes without changing review
// state.
func (c *Controller) AddCandidateNote(ctx context.Context, candidateID, note string) (*types.AttackCandidate, error) {
	candidate, err := c.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if candidate.UserNotes == "" {
		candidate.UserNotes = note
	} else {
		candidate.UserNotes = candidate.UserNotes + "\n" + note
	}
	if err := c.store.UpdateCandidate(ctx, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// ReviewFinding records the human verdict on a verified finding.
func (c *Controller) ReviewFinding(ctx context.Context, findingID string, confirmed bool, notes string) (*types.VerifiedFinding, error) {
	finding, err := c.store.GetFinding(ctx, findingID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	finding.HumanReviewed = true
	finding.HumanConfirmed = &confirmed
	finding.ReviewerNotes = notes
	finding.ReviewedAt = &now
	if err := c.store.UpdateFinding(ctx, finding); err != nil {
		return nil, err
	}
	c.log.Infow("Finding reviewed", "finding_id", findingID, "confirmed", confirmed)
	return finding, nil
}

// StopJob moves a non-terminal test job to STOPPED.
func (c *Controller) StopJob(ctx context.Context, jobID, reason string) (*types.TestJob, error) {
	job, err := c.store.GetTestJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("job %s already terminal (%s)", jobID, job.Status)
	}
	job.ErrorMessage = reason
	if err := job.Transition(types.JobStopped); err != nil {
		return nil, err
	}
	if err := c.store.UpdateTestJob(ctx, job); err != nil {
		return nil, err
	}
	c.log.Warnw("Job stopped by operator", "job_id", jobID, "reason", reason)
	return job, nil
}

// ActivateKillSwitch engages the global emergency stop and force-stops
// every non-terminal test job. Returns the number of jobs stopped.
func (c *Controller) ActivateKillSwitch(ctx context.Context, reason string) (int64, error) {
	if reason == "" {
		return 0, fmt.Errorf("kill switch activation requires a reason")
	}
	return safety.Activate(ctx, c.store, c.log, reason)
}

// DeactivateKillSwitch releases the emergency stop.
func (c *Controller) DeactivateKillSwitch(ctx context.Context) error {
	return safety.Deactivate(ctx, c.store, c.log)
}

// KillSwitchState reports the current kill switch status.
func (c *Controller) KillSwitchState(ctx context.Context) (*types.KillSwitch, error) {
	return c.store.GetKillSwitch(ctx)
}

// SetTargetPaused flips the pause flag. Paused targets accept no new
// test jobs and running jobs stop at the next gate poll.
func (c *Controller) SetTargetPaused(ctx context.Context, targetID string, paused bool) (*types.Target, error) {
	target, err := c.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	target.Paused = paused
	if err := c.store.UpdateTarget(ctx, target); err != nil {
		return nil, err
	}
	c.log.Infow("Target pause state changed", "target_id", targetID, "paused", paused)
	return target, nil
}

// SetTargetEnabled flips the enabled flag.
func (c *Controller) SetTargetEnabled(ctx context.Context, targetID string, enabled bool) (*types.Target, error) {
	target, err := c.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	target.Enabled = enabled
	if err := c.store.UpdateTarget(ctx, target); err != nil {
		return nil, err
	}
	c.log.Infow("Target enabled state changed", "target_id", targetID, "enabled", enabled)
	return target, nil
}

// TargetStats aggregates pipeline throughput for one target.
func (c *Controller) TargetStats(ctx context.Context, targetID string) (*core.TargetStats, error) {
	return c.store.GetTargetStats(ctx, targetID)
}
