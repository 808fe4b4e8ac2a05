package vulntest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/pkg/intelligence"
	"github.com/huntplane/huntplane/pkg/types"
)

// Orchestrator runs one approved attack candidate through the full
// test lifecycle: payload selection, rate-limited execution, signal
// verification, confidence scoring and finding creation. The safety
// gate is consulted before the job starts and again between payload
// requests, so a kill switch takes effect mid-job.
type Orchestrator struct {
	store       core.Store
	executor    *Executor
	verifier    *Verifier
	scorer      *Scorer
	gate        core.SafetyGate
	telemetry   core.Telemetry
	log         *logger.Logger
	maxPayloads int
}

func NewOrchestrator(store core.Store, executor *Executor, gate core.SafetyGate, telemetry core.Telemetry, log *logger.Logger, maxPayloads int) *Orchestrator {
	if maxPayloads <= 0 {
		maxPayloads = 5
	}
	return &Orchestrator{
		store:       store,
		executor:    executor,
		verifier:    NewVerifier(),
		scorer:      NewScorer(),
		gate:        gate,
		telemetry:   telemetry,
		log:         log.WithComponent("orchestrator"),
		maxPayloads: maxPayloads,
	}
}

type executionMetadata struct {
	Explanation        string   `json:"explanation"`
	FalsePositiveCheck []string `json:"false_positive_check"`
}

// RunJob executes a test job to a terminal state. A policy block stops
// the job cleanly (STOPPED, no error); any other failure marks it
// FAILED and returns the error.
func (o *Orchestrator) RunJob(ctx context.Context, job *types.TestJob) error {
	log := o.log.WithJobID(job.ID).WithTarget(job.TargetID)
	started := time.Now()

	err := o.run(ctx, job, log)

	var blocked *core.PolicyBlockedError
	if errors.As(err, &blocked) {
		log.Warnw("Job stopped by policy", "reason", blocked.Reason)
		return o.finish(ctx, job, types.JobStopped, blocked.Reason, started)
	}
	if err != nil {
		log.LogError(ctx, err, "test job execution")
		if ferr := o.finish(ctx, job, types.JobFailed, err.Error(), started); ferr != nil {
			return ferr
		}
		return err
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, job *types.TestJob, status types.JobStatus, message string, started time.Time) error {
	if !job.Status.Terminal() {
		job.ErrorMessage = message
		if err := job.Transition(status); err != nil {
			return err
		}
	}
	o.telemetry.RecordJob("test", time.Since(started), status == types.JobVerified)
	return o.store.UpdateTestJob(ctx, job)
}

func (o *Orchestrator) run(ctx context.Context, job *types.TestJob, log *logger.Logger) error {
	started := time.Now()

	if err := o.gate.CanRun(ctx, job.TargetID); err != nil {
		return err
	}

	candidate, err := o.store.GetCandidate(ctx, job.CandidateID)
	if err != nil {
		return fmt.Errorf("loading candidate: %w", err)
	}
	cluster, err := o.store.GetCluster(ctx, candidate.ClusterID)
	if err != nil {
		return fmt.Errorf("loading cluster: %w", err)
	}
	target, err := o.store.GetTarget(ctx, job.TargetID)
	if err != nil {
		return fmt.Errorf("loading target: %w", err)
	}

	if err := job.Transition(types.JobRunning); err != nil {
		return err
	}
	if err := o.store.UpdateTestJob(ctx, job); err != nil {
		return err
	}

	payloads, err := o.store.GetPayloads(ctx, candidate.AttackType)
	if err != nil {
		return fmt.Errorf("loading payloads: %w", err)
	}
	if len(payloads) > o.maxPayloads {
		payloads = payloads[:o.maxPayloads]
	}

	testURL, err := o.resolveTestURL(ctx, target, cluster, candidate)
	if err != nil {
		return err
	}
	paramName := targetParameter(candidate)

	log.Infow("Test job started",
		"attack_type", candidate.AttackType,
		"url", testURL,
		"parameter", paramName,
		"payloads", len(payloads),
	)

	var (
		results  []*types.TestResult
		baseline *types.Snapshot
	)

	for _, payload := range payloads {
		if err := o.gate.CanRun(ctx, job.TargetID); err != nil {
			return err
		}

		snapshot, err := o.executor.Execute(ctx, target, testURL, cluster.HTTPMethod, paramName, payload.PayloadString)
		if err != nil {
			// Scope and method refusals are fatal to the single request
			// only: the payload is skipped, the job keeps going.
			var oos *core.OutOfScopeError
			var unsupported *core.UnsupportedMethodError
			if errors.As(err, &oos) || errors.As(err, &unsupported) {
				log.Warnw("Payload skipped by request policy", "payload_type", payload.PayloadType, "error", err.Error())
				continue
			}
			return err
		}
		if !snapshot.Success {
			log.Debugw("Payload attempt failed, skipping", "payload_type", payload.PayloadType, "error", snapshot.Error)
			continue
		}

		var verdict Verification
		if candidate.AttackType == types.AttackIDOR {
			if baseline == nil {
				baseline = snapshot
				verdict = Verification{Evidence: "Baseline snapshot recorded"}
			} else {
				verdict = o.verifier.VerifyIDOR(baseline, snapshot)
			}
		} else {
			verdict = o.verifier.Verify(candidate.AttackType, payload, snapshot)
		}

		result := o.buildResult(job.ID, payload, snapshot, verdict)
		if err := o.store.SaveTestResult(ctx, result); err != nil {
			return fmt.Errorf("saving test result: %w", err)
		}
		results = append(results, result)

		job.PayloadsTested++
		if verdict.Signaled {
			job.SignalsDetected++
		}
		if err := o.store.UpdateTestJob(ctx, job); err != nil {
			return err
		}
	}

	score, explanation := o.scorer.Score(candidate.AttackType, results)
	fpSignals := o.verifier.DetectFalsePositiveSignals(results)
	score = o.scorer.ApplyPenalty(score, fpSignals)
	job.Confidence = score

	meta, err := json.Marshal(executionMetadata{
		Explanation:        explanation,
		FalsePositiveCheck: fpSignals,
	})
	if err != nil {
		return err
	}
	job.ExecutionMetadata = string(meta)

	outcome := o.scorer.Categorize(score)
	log.Infow("Test job scored",
		"confidence", score,
		"outcome", outcome,
		"signals", job.SignalsDetected,
	)

	payloadIndex := map[string]*types.Payload{}
	for _, p := range payloads {
		payloadIndex[p.ID] = p
	}

	if outcome == types.OutcomeVerified {
		if err := o.createFinding(ctx, job, candidate, testURL, paramName, results, payloadIndex, score, log); err != nil {
			return err
		}
		if err := job.Transition(types.JobVerified); err != nil {
			return err
		}
	} else {
		if err := job.Transition(types.JobFailed); err != nil {
			return err
		}
	}
	if err := o.store.UpdateTestJob(ctx, job); err != nil {
		return err
	}

	if err := o.saveFeedback(ctx, job, candidate, outcome, score, explanation, results); err != nil {
		return err
	}

	o.telemetry.RecordJob("test", time.Since(started), outcome == types.OutcomeVerified)
	return nil
}

func (o *Orchestrator) buildResult(jobID string, payload *types.Payload, snapshot *types.Snapshot, verdict Verification) *types.TestResult {
	result := &types.TestResult{
		ID:             uuid.New().String(),
		TestJobID:      jobID,
		PayloadID:      payload.ID,
		RequestURL:     snapshot.RequestURL,
		RequestMethod:  snapshot.RequestMethod,
		RequestBody:    snapshot.RequestBody,
		ResponseStatus: snapshot.ResponseStatus,
		ResponseBody:   snapshot.ResponseBody,
		ResponseTimeMs: snapshot.ResponseTimeMs,
		SignalDetected: verdict.Signaled,
		SignalEvidence: verdict.Evidence,
		CreatedAt:      time.Now().UTC(),
	}
	if headers, err := json.Marshal(snapshot.RequestHeaders); err == nil && snapshot.RequestHeaders != nil {
		result.RequestHeaders = string(headers)
	}
	if headers, err := json.Marshal(snapshot.ResponseHeaders); err == nil && snapshot.ResponseHeaders != nil {
		result.ResponseHeaders = string(headers)
	}
	if verdict.Signaled {
		result.SignalType = payload.PayloadType
		result.ConfidenceDelta = verdict.Delta
	}
	return result
}

// resolveTestURL prefers a real discovered endpoint from the cluster;
// when none exists the normalized path is materialized with benign
// placeholder values.
func (o *Orchestrator) resolveTestURL(ctx context.Context, target *types.Target, cluster *types.Cluster, candidate *types.AttackCandidate) (string, error) {
	endpoints, err := o.store.GetEndpoints(ctx, target.ID)
	if err != nil {
		return "", fmt.Errorf("loading endpoints: %w", err)
	}
	for _, ep := range endpoints {
		if intelligence.NormalizeURL(ep.URL) == cluster.NormalizedPath {
			return ep.URL, nil
		}
	}

	path := cluster.NormalizedPath
	path = strings.ReplaceAll(path, "{id}", "1")
	path = strings.ReplaceAll(path, "{uuid}", "test")
	path = strings.ReplaceAll(path, "{hex_id}", "1")
	path = strings.ReplaceAll(path, "{hash}", "1")
	return fmt.Sprintf("https://%s%s?%s=test", target.Domain, path, targetParameter(candidate)), nil
}

func targetParameter(candidate *types.AttackCandidate) string {
	if len(candidate.AffectedParameters) > 0 {
		return candidate.AffectedParameters[0]
	}
	return "test"
}

func (o *Orchestrator) createFinding(ctx context.Context, job *types.TestJob, candidate *types.AttackCandidate, testURL, paramName string, results []*types.TestResult, payloads map[string]*types.Payload, score int, log *logger.Logger) error {
	best := bestResult(results)
	if best == nil {
		return fmt.Errorf("verified outcome with no results")
	}
	payload, ok := payloads[best.PayloadID]
	if !ok {
		return fmt.Errorf("payload %s missing from job set", best.PayloadID)
	}

	fpProb := 100 - score
	if fpProb < 0 {
		fpProb = 0
	}

	severity := o.scorer.Severity(candidate.AttackType, score)
	finding := &types.VerifiedFinding{
		ID:                  uuid.New().String(),
		TestJobID:           job.ID,
		TargetID:            job.TargetID,
		AttackType:          candidate.AttackType,
		Severity:            severity,
		Confidence:          score,
		EndpointURL:         testURL,
		VulnerableParameter: paramName,
		PayloadUsed:         payload.PayloadString,
		ProofOfConcept:      fmt.Sprintf("%s %s with parameter %s set to %q", best.RequestMethod, best.RequestURL, paramName, payload.PayloadString),
		Evidence:            best.SignalEvidence,
		Reasoning:           candidate.Reasoning,
		ReproductionSteps: fmt.Sprintf(
			"1. Send a %s request to %s\n2. Set parameter %q to %q\n3. Observe: %s",
			best.RequestMethod, best.RequestURL, paramName, payload.PayloadString, best.SignalEvidence,
		),
		FalsePositiveProb: fpProb,
		CreatedAt:         time.Now().UTC(),
	}
	if err := o.store.SaveFinding(ctx, finding); err != nil {
		return fmt.Errorf("saving finding: %w", err)
	}

	o.telemetry.RecordFinding(severity)
	log.LogFinding(ctx,
		"finding_id", finding.ID,
		"attack_type", finding.AttackType,
		"severity", finding.Severity,
		"confidence", finding.Confidence,
		"url", finding.EndpointURL,
	)
	return nil
}

func bestResult(results []*types.TestResult) *types.TestResult {
	var best *types.TestResult
	for _, r := range results {
		if !r.SignalDetected {
			continue
		}
		if best == nil || r.ConfidenceDelta > best.ConfidenceDelta {
			best = r
		}
	}
	if best == nil && len(results) > 0 {
		best = results[0]
	}
	return best
}

func (o *Orchestrator) saveFeedback(ctx context.Context, job *types.TestJob, candidate *types.AttackCandidate, outcome types.Outcome, score int, explanation string, results []*types.TestResult) error {
	var suggestions []string
	if score < 40 {
		suggestions = append(suggestions, "Low confidence - consider excluding similar patterns")
	}
	if job.SignalsDetected == 0 {
		suggestions = append(suggestions, "No signals detected - endpoint may not be vulnerable")
	}
	if len(results) < 3 {
		suggestions = append(suggestions, "Few payloads tested - may need more diverse payload library")
	}
	adjustments := "No adjustments suggested"
	if len(suggestions) > 0 {
		adjustments = strings.Join(suggestions, "; ")
	}

	feedback := &types.TestJobFeedback{
		ID:                   uuid.New().String(),
		TestJobID:            job.ID,
		CandidateID:          candidate.ID,
		Outcome:              outcome,
		Confidence:           score,
		FalsePositive:        outcome == types.OutcomeDiscard,
		Reasoning:            explanation,
		AdjustmentsSuggested: adjustments,
		CreatedAt:            time.Now().UTC(),
	}
	return o.store.SaveFeedback(ctx, feedback)
}
