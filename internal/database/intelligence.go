package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/pkg/types"
)

func (s *sqlStore) SaveCluster(ctx context.Context, cluster *types.Cluster) error {
	start := time.Now()
	query := `
		INSERT INTO clusters (
			id, target_id, normalized_path, http_method, parameter_signature,
			endpoint_count, has_auth, created_at
		) VALUES (
			:id, :target_id, :normalized_path, :http_method, :parameter_signature,
			:endpoint_count, :has_auth, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, cluster); err != nil {
		s.logger.LogError(ctx, err, "database.SaveCluster",
			"cluster_id", cluster.ID,
			"normalized_path", cluster.NormalizedPath,
		)
		return fmt.Errorf("failed to save cluster: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "clusters", 1, time.Since(start),
		"cluster_id", cluster.ID,
		"normalized_path", cluster.NormalizedPath,
		"http_method", cluster.HTTPMethod,
	)
	return nil
}

func (s *sqlStore) UpdateCluster(ctx context.Context, cluster *types.Cluster) error {
	query := `
		UPDATE clusters SET endpoint_count = :endpoint_count, has_auth = :has_auth
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, cluster)
	if err != nil {
		s.logger.LogError(ctx, err, "database.UpdateCluster", "cluster_id", cluster.ID)
		return fmt.Errorf("failed to update cluster: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("cluster not found: %s", cluster.ID)
	}
	return nil
}

func (s *sqlStore) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	var cluster types.Cluster
	query := fmt.Sprintf("SELECT * FROM clusters WHERE id = %s", s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &cluster, query, clusterID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("cluster not found: %s", clusterID)
		}
		return nil, fmt.Errorf("failed to get cluster: %w", err)
	}
	return &cluster, nil
}

// FindCluster looks up a cluster by its uniqueness key. Returns
// (nil, nil) when absent so callers can distinguish miss from error.
func (s *sqlStore) FindCluster(ctx context.Context, targetID, normalizedPath, method, paramSignature string) (*types.Cluster, error) {
	var cluster types.Cluster
	query := fmt.Sprintf(`
		SELECT * FROM clusters
		WHERE target_id = %s AND normalized_path = %s AND http_method = %s AND parameter_signature = %s
	`, s.getPlaceholder(1), s.getPlaceholder(2), s.getPlaceholder(3), s.getPlaceholder(4))
	err := s.db.GetContext(ctx, &cluster, query, targetID, normalizedPath, method, paramSignature)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cluster: %w", err)
	}
	return &cluster, nil
}

func (s *sqlStore) ListClusters(ctx context.Context, targetID string) ([]*types.Cluster, error) {
	clusters := []*types.Cluster{}
	query := fmt.Sprintf("SELECT * FROM clusters WHERE target_id = %s ORDER BY created_at", s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &clusters, query, targetID); err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	return clusters, nil
}

type parameterRow struct {
	ID           string    `db:"id"`
	ClusterID    string    `db:"cluster_id"`
	Name         string    `db:"name"`
	DataType     string    `db:"data_type"`
	SemanticRole string    `db:"semantic_role"`
	Confidence   int       `db:"confidence"`
	SampleValues string    `db:"sample_values"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r parameterRow) toParameter(s *sqlStore) *types.Parameter {
	param := &types.Parameter{
		ID:           r.ID,
		ClusterID:    r.ClusterID,
		Name:         r.Name,
		DataType:     types.DataType(r.DataType),
		SemanticRole: types.SemanticRole(r.SemanticRole),
		Confidence:   r.Confidence,
		CreatedAt:    r.CreatedAt,
	}
	if r.SampleValues != "" {
		if err := json.Unmarshal([]byte(r.SampleValues), &param.SampleValues); err != nil {
			s.logger.Warnw("Failed to unmarshal sample values", "parameter_id", r.ID, "error", err)
		}
	}
	return param
}

func (s *sqlStore) SaveParameter(ctx context.Context, param *types.Parameter) error {
	start := time.Now()
	samples, err := json.Marshal(param.SampleValues)
	if err != nil {
		return fmt.Errorf("failed to marshal sample values: %w", err)
	}
	query := `
		INSERT INTO parameters (
			id, cluster_id, name, data_type, semantic_role, confidence, sample_values, created_at
		) VALUES (
			:id, :cluster_id, :name, :data_type, :semantic_role, :confidence, :sample_values, :created_at
		)
	`
	args := map[string]interface{}{
		"id":            param.ID,
		"cluster_id":    param.ClusterID,
		"name":          param.Name,
		"data_type":     string(param.DataType),
		"semantic_role": string(param.SemanticRole),
		"confidence":    param.Confidence,
		"sample_values": string(samples),
		"created_at":    param.CreatedAt,
	}
	if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
		s.logger.LogError(ctx, err, "database.SaveParameter",
			"cluster_id", param.ClusterID,
			"name", param.Name,
		)
		return fmt.Errorf("failed to save parameter: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "parameters", 1, time.Since(start),
		"cluster_id", param.ClusterID,
		"name", param.Name,
		"semantic_role", string(param.SemanticRole),
	)
	return nil
}

func (s *sqlStore) FindParameter(ctx context.Context, clusterID, name string) (*types.Parameter, error) {
	var row parameterRow
	query := fmt.Sprintf("SELECT * FROM parameters WHERE cluster_id = %s AND name = %s",
		s.getPlaceholder(1), s.getPlaceholder(2))
	err := s.db.GetContext(ctx, &row, query, clusterID, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find parameter: %w", err)
	}
	return row.toParameter(s), nil
}

func (s *sqlStore) ListParameters(ctx context.Context, clusterID string) ([]*types.Parameter, error) {
	rows := []parameterRow{}
	query := fmt.Sprintf("SELECT * FROM parameters WHERE cluster_id = %s ORDER BY name", s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &rows, query, clusterID); err != nil {
		return nil, fmt.Errorf("failed to list parameters: %w", err)
	}
	params := make([]*types.Parameter, 0, len(rows))
	for _, row := range rows {
		params = append(params, row.toParameter(s))
	}
	return params, nil
}

func (s *sqlStore) SaveAuthSurface(ctx context.Context, surface *types.AuthSurface) error {
	start := time.Now()
	query := `
		INSERT INTO auth_surfaces (id, cluster_id, is_authenticated, auth_type, confidence, created_at)
		VALUES (:id, :cluster_id, :is_authenticated, :auth_type, :confidence, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, surface); err != nil {
		s.logger.LogError(ctx, err, "database.SaveAuthSurface", "cluster_id", surface.ClusterID)
		return fmt.Errorf("failed to save auth surface: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "auth_surfaces", 1, time.Since(start),
		"cluster_id", surface.ClusterID,
		"auth_type", string(surface.AuthType),
	)
	return nil
}

func (s *sqlStore) GetAuthSurface(ctx context.Context, clusterID string) (*types.AuthSurface, error) {
	var surface types.AuthSurface
	query := fmt.Sprintf("SELECT * FROM auth_surfaces WHERE cluster_id = %s", s.getPlaceholder(1))
	err := s.db.GetContext(ctx, &surface, query, clusterID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth surface: %w", err)
	}
	return &surface, nil
}

type responseDiffRow struct {
	ID         string    `db:"id"`
	ClusterID  string    `db:"cluster_id"`
	EndpointA  string    `db:"endpoint_a"`
	EndpointB  string    `db:"endpoint_b"`
	HashA      string    `db:"hash_a"`
	HashB      string    `db:"hash_b"`
	Suspicious bool      `db:"suspicious"`
	DiffType   string    `db:"diff_type"`
	Notes      string    `db:"notes"`
	CreatedAt  time.Time `db:"created_at"`
}

func (s *sqlStore) SaveResponseDiff(ctx context.Context, diff *types.ResponseDiff) error {
	start := time.Now()
	query := `
		INSERT INTO response_diffs (
			id, cluster_id, endpoint_a, endpoint_b, hash_a, hash_b,
			suspicious, diff_type, notes, created_at
		) VALUES (
			:id, :cluster_id, :endpoint_a, :endpoint_b, :hash_a, :hash_b,
			:suspicious, :diff_type, :notes, :created_at
		)
	`
	// Hashes are stored as hex text; uint64 does not fit BIGINT.
	args := map[string]interface{}{
		"id":         diff.ID,
		"cluster_id": diff.ClusterID,
		"endpoint_a": diff.EndpointA,
		"endpoint_b": diff.EndpointB,
		"hash_a":     fmt.Sprintf("%016x", diff.HashA),
		"hash_b":     fmt.Sprintf("%016x", diff.HashB),
		"suspicious": diff.Suspicious,
		"diff_type":  diff.DiffType,
		"notes":      diff.Notes,
		"created_at": diff.CreatedAt,
	}
	if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
		s.logger.LogError(ctx, err, "database.SaveResponseDiff", "cluster_id", diff.ClusterID)
		return fmt.Errorf("failed to save response diff: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "response_diffs", 1, time.Since(start),
		"cluster_id", diff.ClusterID,
		"suspicious", diff.Suspicious,
	)
	return nil
}

func (s *sqlStore) ListResponseDiffs(ctx context.Context, clusterID string) ([]*types.ResponseDiff, error) {
	rows := []responseDiffRow{}
	query := fmt.Sprintf("SELECT * FROM response_diffs WHERE cluster_id = %s ORDER BY created_at", s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &rows, query, clusterID); err != nil {
		return nil, fmt.Errorf("failed to list response diffs: %w", err)
	}
	diffs := make([]*types.ResponseDiff, 0, len(rows))
	for _, row := range rows {
		hashA, _ := strconv.ParseUint(row.HashA, 16, 64)
		hashB, _ := strconv.ParseUint(row.HashB, 16, 64)
		diffs = append(diffs, &types.ResponseDiff{
			ID:         row.ID,
			ClusterID:  row.ClusterID,
			EndpointA:  row.EndpointA,
			EndpointB:  row.EndpointB,
			HashA:      hashA,
			HashB:      hashB,
			Suspicious: row.Suspicious,
			DiffType:   row.DiffType,
			Notes:      row.Notes,
			CreatedAt:  row.CreatedAt,
		})
	}
	return diffs, nil
}

type candidateRow struct {
	ID                 string     `db:"id"`
	ClusterID          string     `db:"cluster_id"`
	TargetID           string     `db:"target_id"`
	AttackType         string     `db:"attack_type"`
	RiskLevel          string     `db:"risk_level"`
	Reasoning          string     `db:"reasoning"`
	AffectedParameters string     `db:"affected_parameters"`
	Confidence         int        `db:"confidence"`
	AutoGenerated      bool       `db:"auto_generated"`
	Reviewed           bool       `db:"reviewed"`
	ApprovedForTesting bool       `db:"approved_for_testing"`
	Rejected           bool       `db:"rejected"`
	UserNotes          string     `db:"user_notes"`
	ReviewedAt         *time.Time `db:"reviewed_at"`
	CreatedAt          time.Time  `db:"created_at"`
}

func (r candidateRow) toCandidate(s *sqlStore) *types.AttackCandidate {
	candidate := &types.AttackCandidate{
		ID:                 r.ID,
		ClusterID:          r.ClusterID,
		TargetID:           r.TargetID,
		AttackType:         types.AttackType(r.AttackType),
		RiskLevel:          types.RiskLevel(r.RiskLevel),
		Reasoning:          r.Reasoning,
		Confidence:         r.Confidence,
		AutoGenerated:      r.AutoGenerated,
		Reviewed:           r.Reviewed,
		ApprovedForTesting: r.ApprovedForTesting,
		Rejected:           r.Rejected,
		UserNotes:          r.UserNotes,
		ReviewedAt:         r.ReviewedAt,
		CreatedAt:          r.CreatedAt,
	}
	if r.AffectedParameters != "" {
		if err := json.Unmarshal([]byte(r.AffectedParameters), &candidate.AffectedParameters); err != nil {
			s.logger.Warnw("Failed to unmarshal affected parameters", "candidate_id", r.ID, "error", err)
		}
	}
	return candidate
}

func candidateArgs(candidate *types.AttackCandidate) (map[string]interface{}, error) {
	params, err := json.Marshal(candidate.AffectedParameters)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal affected parameters: %w", err)
	}
	return map[string]interface{}{
		"id":                   candidate.ID,
		"cluster_id":           candidate.ClusterID,
		"target_id":            candidate.TargetID,
		"attack_type":          string(candidate.AttackType),
		"risk_level":           string(candidate.RiskLevel),
		"reasoning":            candidate.Reasoning,
		"affected_parameters":  string(params),
		"confidence":           candidate.Confidence,
		"auto_generated":       candidate.AutoGenerated,
		"reviewed":             candidate.Reviewed,
		"approved_for_testing": candidate.ApprovedForTesting,
		"rejected":             candidate.Rejected,
		"user_notes":           candidate.UserNotes,
		"reviewed_at":          candidate.ReviewedAt,
		"created_at":           candidate.CreatedAt,
	}, nil
}

func (s *sqlStore) SaveCandidate(ctx context.Context, candidate *types.AttackCandidate) error {
	start := time.Now()
	args, err := candidateArgs(candidate)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO attack_candidates (
			id, cluster_id, target_id, attack_type, risk_level, reasoning,
			affected_parameters, confidence, auto_generated, reviewed,
			approved_for_testing, rejected, user_notes, reviewed_at, created_at
		) VALUES (
			:id, :cluster_id, :target_id, :attack_type, :risk_level, :reasoning,
			:affected_parameters, :confidence, :auto_generated, :reviewed,
			:approved_for_testing, :rejected, :user_notes, :reviewed_at, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
		s.logger.LogError(ctx, err, "database.SaveCandidate",
			"cluster_id", candidate.ClusterID,
			"attack_type", string(candidate.AttackType),
		)
		return fmt.Errorf("failed to save candidate: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "attack_candidates", 1, time.Since(start),
		"candidate_id", candidate.ID,
		"attack_type", string(candidate.AttackType),
		"risk_level", string(candidate.RiskLevel),
	)
	return nil
}

func (s *sqlStore) UpdateCandidate(ctx context.Context, candidate *types.AttackCandidate) error {
	args, err := candidateArgs(candidate)
	if err != nil {
		return err
	}
	query := `
		UPDATE attack_candidates SET
			reasoning = :reasoning, affected_parameters = :affected_parameters,
			confidence = :confidence, reviewed = :reviewed,
			approved_for_testing = :approved_for_testing, rejected = :rejected,
			user_notes = :user_notes, reviewed_at = :reviewed_at
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, args)
	if err != nil {
		s.logger.LogError(ctx, err, "database.UpdateCandidate", "candidate_id", candidate.ID)
		return fmt.Errorf("failed to update candidate: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("candidate not found: %s", candidate.ID)
	}
	return nil
}

func (s *sqlStore) GetCandidate(ctx context.Context, candidateID string) (*types.AttackCandidate, error) {
	var row candidateRow
	query := fmt.Sprintf("SELECT * FROM attack_candidates WHERE id = %s", s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &row, query, candidateID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("candidate not found: %s", candidateID)
		}
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	return row.toCandidate(s), nil
}

func (s *sqlStore) FindCandidate(ctx context.Context, clusterID string, attackType types.AttackType) (*types.AttackCandidate, error) {
	var row candidateRow
	query := fmt.Sprintf("SELECT * FROM attack_candidates WHERE cluster_id = %s AND attack_type = %s",
		s.getPlaceholder(1), s.getPlaceholder(2))
	err := s.db.GetContext(ctx, &row, query, clusterID, string(attackType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate: %w", err)
	}
	return row.toCandidate(s), nil
}

func (s *sqlStore) ListCandidates(ctx context.Context, filter core.CandidateFilter) ([]*types.AttackCandidate, error) {
	query := "SELECT * FROM attack_candidates WHERE 1=1"
	args := []interface{}{}
	n := 1

	if filter.TargetID != "" {
		query += fmt.Sprintf(" AND target_id = %s", s.getPlaceholder(n))
		args = append(args, filter.TargetID)
		n++
	}
	if filter.ClusterID != "" {
		query += fmt.Sprintf(" AND cluster_id = %s", s.getPlaceholder(n))
		args = append(args, filter.ClusterID)
		n++
	}
	if filter.AttackType != "" {
		query += fmt.Sprintf(" AND attack_type = %s", s.getPlaceholder(n))
		args = append(args, string(filter.AttackType))
		n++
	}
	if filter.ApprovedForTesting != nil {
		query += fmt.Sprintf(" AND approved_for_testing = %s", s.getPlaceholder(n))
		args = append(args, *filter.ApprovedForTesting)
		n++
	}
	if filter.Reviewed != nil {
		query += fmt.Sprintf(" AND reviewed = %s", s.getPlaceholder(n))
		args = append(args, *filter.Reviewed)
		n++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows := []candidateRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	candidates := make([]*types.AttackCandidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, row.toCandidate(s))
	}
	return candidates, nil
}

type intelligenceJobRow struct {
	ID           string     `db:"id"`
	TargetID     string     `db:"target_id"`
	Stages       string     `db:"stages"`
	Status       string     `db:"status"`
	ResultsCount int        `db:"results_count"`
	ErrorMessage string     `db:"error_message"`
	StartedAt    *time.Time `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

func intelligenceJobArgs(job *types.IntelligenceJob) (map[string]interface{}, error) {
	stages, err := json.Marshal(job.Stages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stages: %w", err)
	}
	return map[string]interface{}{
		"id":            job.ID,
		"target_id":     job.TargetID,
		"stages":        string(stages),
		"status":        string(job.Status),
		"results_count": job.ResultsCount,
		"error_message": job.ErrorMessage,
		"started_at":    job.StartedAt,
		"finished_at":   job.FinishedAt,
		"created_at":    job.CreatedAt,
	}, nil
}

func (s *sqlStore) SaveIntelligenceJob(ctx context.Context, job *types.IntelligenceJob) error {
	start := time.Now()
	args, err := intelligenceJobArgs(job)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO intelligence_jobs (
			id, target_id, stages, status, results_count, error_message,
			started_at, finished_at, created_at
		) VALUES (
			:id, :target_id, :stages, :status, :results_count, :error_message,
			:started_at, :finished_at, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
		s.logger.LogError(ctx, err, "database.SaveIntelligenceJob", "job_id", job.ID)
		return fmt.Errorf("failed to save intelligence job: %w", err)
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "intelligence_jobs", 1, time.Since(start),
		"job_id", job.ID,
		"target_id", job.TargetID,
	)
	return nil
}

func (s *sqlStore) UpdateIntelligenceJob(ctx context.Context, job *types.IntelligenceJob) error {
	args, err := intelligenceJobArgs(job)
	if err != nil {
		return err
	}
	query := `
		UPDATE intelligence_jobs SET
			status = :status, results_count = :results_count, error_message = :error_message,
			started_at = :started_at, finished_at = :finished_at
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, args)
	if err != nil {
		s.logger.LogError(ctx, err, "database.UpdateIntelligenceJob", "job_id", job.ID)
		return fmt.Errorf("failed to update intelligence job: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("intelligence job not found: %s", job.ID)
	}
	return nil
}

func (s *sqlStore) GetIntelligenceJob(ctx context.Context, jobID string) (*types.IntelligenceJob, error) {
	var row intelligenceJobRow
	query := fmt.Sprintf("SELECT * FROM intelligence_jobs WHERE id = %s", s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("intelligence job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get intelligence job: %w", err)
	}

	job := &types.IntelligenceJob{
		ID:           row.ID,
		TargetID:     row.TargetID,
		Status:       types.IntelligenceStatus(row.Status),
		ResultsCount: row.ResultsCount,
		ErrorMessage: row.ErrorMessage,
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
		CreatedAt:    row.CreatedAt,
	}
	if row.Stages != "" {
		if err := json.Unmarshal([]byte(row.Stages), &job.Stages); err != nil {
			s.logger.Warnw("Failed to unmarshal stages", "job_id", row.ID, "error", err)
		}
	}
	return job, nil
}
