package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/pkg/types"
)

func (s *sqlStore) SavePayload(ctx context.Context, payload *types.Payload) error {
	start := time.Now()
	query := `
		INSERT INTO payloads (
			id, attack_type, payload_string, payload_type, detection_pattern,
			confidence_weight, seq, is_active, is_safe, description, created_at
		) VALUES (
			:id, :attack_type, :payload_string, :payload_type, :detection_pattern,
			:confidence_weight, :seq, :is_active, :is_safe, :description, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, payload); err != nil {
		s.logger.LogError(ctx, err, "database.SavePayload",
			"attack_type", string(payload.AttackType),
			"payload_type", payload.PayloadType,
		)
		return fmt.Errorf("failed to save payload: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "payloads", 1, time.Since(start),
		"attack_type", string(payload.AttackType),
		"payload_type", payload.PayloadType,
	)
	return nil
}

func (s *sqlStore) FindPayload(ctx context.Context, attackType types.AttackType, payloadString string) (*types.Payload, error) {
	var payload types.Payload
	query := fmt.Sprintf("SELECT * FROM payloads WHERE attack_type = %s AND payload_string = %s",
		s.getPlaceholder(1), s.getPlaceholder(2))
	err := s.db.GetContext(ctx, &payload, query, string(attackType), payloadString)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payload: %w", err)
	}
	return &payload, nil
}

func (s *sqlStore) GetPayloads(ctx context.Context, attackType types.AttackType) ([]*types.Payload, error) {
	payloads := []*types.Payload{}
	// Only active, non-destructive entries are ever handed to the
	// executor. Catalog order is the trial order, so the sort must be
	// total: seq, then id as the tie break.
	query := fmt.Sprintf(`
		SELECT * FROM payloads
		WHERE attack_type = %s AND is_active = TRUE AND is_safe = TRUE
		ORDER BY seq, id
	`, s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &payloads, query, string(attackType)); err != nil {
		return nil, fmt.Errorf("failed to get payloads: %w", err)
	}
	return payloads, nil
}

func (s *sqlStore) SaveTestJob(ctx context.Context, job *types.TestJob) error {
	start := time.Now()
	query := `
		INSERT INTO test_jobs (
			id, candidate_id, target_id, status, payloads_tested, signals_detected,
			confidence, execution_metadata, error_message, started_at, finished_at, created_at
		) VALUES (
			:id, :candidate_id, :target_id, :status, :payloads_tested, :signals_detected,
			:confidence, :execution_metadata, :error_message, :started_at, :finished_at, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		s.logger.LogError(ctx, err, "database.SaveTestJob",
			"job_id", job.ID,
			"candidate_id", job.CandidateID,
		)
		return fmt.Errorf("failed to save test job: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "test_jobs", 1, time.Since(start),
		"job_id", job.ID,
		"candidate_id", job.CandidateID,
		"status", string(job.Status),
	)
	return nil
}

func (s *sqlStore) UpdateTestJob(ctx context.Context, job *types.TestJob) error {
	query := `
		UPDATE test_jobs SET
			status = :status, payloads_tested = :payloads_tested,
			signals_detected = :signals_detected, confidence = :confidence,
			execution_metadata = :execution_metadata, error_message = :error_message,
			started_at = :started_at, finished_at = :finished_at
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, job)
	if err != nil {
		s.logger.LogError(ctx, err, "database.UpdateTestJob", "job_id", job.ID)
		return fmt.Errorf("failed to update test job: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("test job not found: %s", job.ID)
	}
	return nil
}

func (s *sqlStore) GetTestJob(ctx context.Context, jobID string) (*types.TestJob, error) {
	var job types.TestJob
	query := fmt.Sprintf("SELECT * FROM test_jobs WHERE id = %s", s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("test job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get test job: %w", err)
	}
	return &job, nil
}

func (s *sqlStore) ListTestJobs(ctx context.Context, filter core.JobFilter) ([]*types.TestJob, error) {
	query := "SELECT * FROM test_jobs WHERE 1=1"
	args := []interface{}{}
	n := 1

	if filter.TargetID != "" {
		query += fmt.Sprintf(" AND target_id = %s", s.getPlaceholder(n))
		args = append(args, filter.TargetID)
		n++
	}
	if filter.CandidateID != "" {
		query += fmt.Sprintf(" AND candidate_id = %s", s.getPlaceholder(n))
		args = append(args, filter.CandidateID)
		n++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = %s", s.getPlaceholder(n))
		args = append(args, string(filter.Status))
		n++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	jobs := []*types.TestJob{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list test jobs: %w", err)
	}
	return jobs, nil
}

func (s *sqlStore) SaveTestResult(ctx context.Context, result *types.TestResult) error {
	start := time.Now()
	query := `
		INSERT INTO test_results (
			id, test_job_id, payload_id, request_url, request_method,
			request_headers, request_body, response_status, response_headers,
			response_body, response_time_ms, signal_detected, signal_type,
			signal_evidence, confidence_delta, created_at
		) VALUES (
			:id, :test_job_id, :payload_id, :request_url, :request_method,
			:request_headers, :request_body, :response_status, :response_headers,
			:response_body, :response_time_ms, :signal_detected, :signal_type,
			:signal_evidence, :confidence_delta, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, result); err != nil {
		s.logger.LogError(ctx, err, "database.SaveTestResult",
			"test_job_id", result.TestJobID,
			"payload_id", result.PayloadID,
		)
		return fmt.Errorf("failed to save test result: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "test_results", 1, time.Since(start),
		"test_job_id", result.TestJobID,
		"signal_detected", result.SignalDetected,
	)
	return nil
}

func (s *sqlStore) ListTestResults(ctx context.Context, jobID string) ([]*types.TestResult, error) {
	results := []*types.TestResult{}
	query := fmt.Sprintf("SELECT * FROM test_results WHERE test_job_id = %s ORDER BY created_at", s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &results, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list test results: %w", err)
	}
	return results, nil
}

func (s *sqlStore) SaveFinding(ctx context.Context, finding *types.VerifiedFinding) error {
	start := time.Now()
	query := `
		INSERT INTO verified_findings (
			id, test_job_id, target_id, attack_type, severity, confidence,
			endpoint_url, vulnerable_parameter, payload_used, proof_of_concept,
			evidence, reasoning, reproduction_steps, false_positive_probability,
			human_reviewed, human_confirmed, reviewer_notes, reviewed_at, created_at
		) VALUES (
			:id, :test_job_id, :target_id, :attack_type, :severity, :confidence,
			:endpoint_url, :vulnerable_parameter, :payload_used, :proof_of_concept,
			:evidence, :reasoning, :reproduction_steps, :false_positive_probability,
			:human_reviewed, :human_confirmed, :reviewer_notes, :reviewed_at, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, finding); err != nil {
		s.logger.LogError(ctx, err, "database.SaveFinding",
			"finding_id", finding.ID,
			"attack_type", string(finding.AttackType),
		)
		return fmt.Errorf("failed to save finding: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "verified_findings", 1, time.Since(start),
		"finding_id", finding.ID,
		"attack_type", string(finding.AttackType),
		"severity", string(finding.Severity),
	)
	return nil
}

func (s *sqlStore) UpdateFinding(ctx context.Context, finding *types.VerifiedFinding) error {
	query := `
		UPDATE verified_findings SET
			human_reviewed = :human_reviewed, human_confirmed = :human_confirmed,
			reviewer_notes = :reviewer_notes, reviewed_at = :reviewed_at
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, finding)
	if err != nil {
		s.logger.LogError(ctx, err, "database.UpdateFinding", "finding_id", finding.ID)
		return fmt.Errorf("failed to update finding: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("finding not found: %s", finding.ID)
	}
	return nil
}

func (s *sqlStore) GetFinding(ctx context.Context, findingID string) (*types.VerifiedFinding, error) {
	var finding types.VerifiedFinding
	query := fmt.Sprintf("SELECT * FROM verified_findings WHERE id = %s", s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &finding, query, findingID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("finding not found: %s", findingID)
		}
		return nil, fmt.Errorf("failed to get finding: %w", err)
	}
	return &finding, nil
}

func (s *sqlStore) ListFindings(ctx context.Context, targetID string) ([]*types.VerifiedFinding, error) {
	findings := []*types.VerifiedFinding{}
	query := fmt.Sprintf("SELECT * FROM verified_findings WHERE target_id = %s ORDER BY created_at DESC", s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &findings, query, targetID); err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return findings, nil
}

func (s *sqlStore) SaveFeedback(ctx context.Context, feedback *types.TestJobFeedback) error {
	start := time.Now()
	query := `
		INSERT INTO test_job_feedback (
			id, test_job_id, candidate_id, outcome, confidence,
			false_positive, reasoning, adjustments_suggested, created_at
		) VALUES (
			:id, :test_job_id, :candidate_id, :outcome, :confidence,
			:false_positive, :reasoning, :adjustments_suggested, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, feedback); err != nil {
		s.logger.LogError(ctx, err, "database.SaveFeedback", "test_job_id", feedback.TestJobID)
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "test_job_feedback", 1, time.Since(start),
		"test_job_id", feedback.TestJobID,
		"outcome", string(feedback.Outcome),
	)
	return nil
}

func (s *sqlStore) ListFeedback(ctx context.Context, candidateID string) ([]*types.TestJobFeedback, error) {
	feedback := []*types.TestJobFeedback{}
	query := fmt.Sprintf("SELECT * FROM test_job_feedback WHERE candidate_id = %s ORDER BY created_at", s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &feedback, query, candidateID); err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return feedback, nil
}
