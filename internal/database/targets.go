package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/pkg/types"
)

func (s *sqlStore) SaveTarget(ctx context.Context, target *types.Target) error {
	start := time.Now()
	query := `
		INSERT INTO targets (id, name, domain, enabled, paused, rate_limit, created_at)
		VALUES (:id, :name, :domain, :enabled, :paused, :rate_limit, :created_at)
	`
	result, err := s.db.NamedExecContext(ctx, query, target)
	if err != nil {
		s.logger.LogError(ctx, err, "database.SaveTarget", "target_id", target.ID)
		return fmt.Errorf("failed to save target: %w", err)
	}
	rows, _ := result.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "INSERT", "targets", rows, time.Since(start),
		"target_id", target.ID,
		"domain", target.Domain,
	)
	return nil
}

func (s *sqlStore) UpdateTarget(ctx context.Context, target *types.Target) error {
	query := `
		UPDATE targets SET name = :name, domain = :domain, enabled = :enabled,
			paused = :paused, rate_limit = :rate_limit
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, target)
	if err != nil {
		s.logger.LogError(ctx, err, "database.UpdateTarget", "target_id", target.ID)
		return fmt.Errorf("failed to update target: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("target not found: %s", target.ID)
	}
	return nil
}

func (s *sqlStore) GetTarget(ctx context.Context, targetID string) (*types.Target, error) {
	var target types.Target
	query := fmt.Sprintf("SELECT * FROM targets WHERE id = %s", s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &target, query, targetID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("target not found: %s", targetID)
		}
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return &target, nil
}

func (s *sqlStore) ListTargets(ctx context.Context) ([]*types.Target, error) {
	targets := []*types.Target{}
	if err := s.db.SelectContext(ctx, &targets, "SELECT * FROM targets ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	return targets, nil
}

type endpointRow struct {
	ID             string    `db:"id"`
	TargetID       string    `db:"target_id"`
	URL            string    `db:"url"`
	Method         string    `db:"method"`
	ParameterNames string    `db:"parameter_names"`
	CreatedAt      time.Time `db:"created_at"`
}

func (s *sqlStore) SaveEndpoints(ctx context.Context, endpoints []types.Endpoint) error {
	start := time.Now()
	query := `
		INSERT INTO endpoints (id, target_id, url, method, parameter_names, created_at)
		VALUES (:id, :target_id, :url, :method, :parameter_names, :created_at)
	`
	for i := range endpoints {
		ep := &endpoints[i]
		names, err := json.Marshal(ep.ParameterNames)
		if err != nil {
			return fmt.Errorf("failed to marshal parameter names: %w", err)
		}
		args := map[string]interface{}{
			"id":              ep.ID,
			"target_id":       ep.TargetID,
			"url":             ep.URL,
			"method":          ep.Method,
			"parameter_names": string(names),
			"created_at":      ep.CreatedAt,
		}
		if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
			s.logger.LogError(ctx, err, "database.SaveEndpoints", "endpoint_id", ep.ID)
			return fmt.Errorf("failed to save endpoint %s: %w", ep.ID, err)
		}
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "endpoints", int64(len(endpoints)), time.Since(start))
	return nil
}

func (s *sqlStore) GetEndpoints(ctx context.Context, targetID string) ([]types.Endpoint, error) {
	rows := []endpointRow{}
	query := fmt.Sprintf("SELECT * FROM endpoints WHERE target_id = %s ORDER BY created_at", s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &rows, query, targetID); err != nil {
		return nil, fmt.Errorf("failed to get endpoints: %w", err)
	}

	endpoints := make([]types.Endpoint, 0, len(rows))
	for _, row := range rows {
		ep := types.Endpoint{
			ID:        row.ID,
			TargetID:  row.TargetID,
			URL:       row.URL,
			Method:    row.Method,
			CreatedAt: row.CreatedAt,
		}
		if row.ParameterNames != "" {
			if err := json.Unmarshal([]byte(row.ParameterNames), &ep.ParameterNames); err != nil {
				s.logger.Warnw("Failed to unmarshal parameter names", "endpoint_id", row.ID, "error", err)
			}
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

type observationRow struct {
	ID          string    `db:"id"`
	TargetID    string    `db:"target_id"`
	Host        string    `db:"host"`
	StatusCode  int       `db:"status_code"`
	HeaderNames string    `db:"header_names"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *sqlStore) SaveObservations(ctx context.Context, observations []types.Observation) error {
	start := time.Now()
	query := `
		INSERT INTO observations (id, target_id, host, status_code, header_names, created_at)
		VALUES (:id, :target_id, :host, :status_code, :header_names, :created_at)
	`
	for i := range observations {
		obs := &observations[i]
		headers, err := json.Marshal(obs.HeaderNames)
		if err != nil {
			return fmt.Errorf("failed to marshal header names: %w", err)
		}
		args := map[string]interface{}{
			"id":           obs.ID,
			"target_id":    obs.TargetID,
			"host":         obs.Host,
			"status_code":  obs.StatusCode,
			"header_names": string(headers),
			"created_at":   obs.CreatedAt,
		}
		if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
			s.logger.LogError(ctx, err, "database.SaveObservations", "observation_id", obs.ID)
			return fmt.Errorf("failed to save observation %s: %w", obs.ID, err)
		}
	}
	s.logger.LogDatabaseOperation(ctx, "INSERT", "observations", int64(len(observations)), time.Since(start))
	return nil
}

func (s *sqlStore) GetObservations(ctx context.Context, targetID string) ([]types.Observation, error) {
	rows := []observationRow{}
	query := fmt.Sprintf("SELECT * FROM observations WHERE target_id = %s ORDER BY created_at", s.getPlaceholder(1))
	if err := s.db.SelectContext(ctx, &rows, query, targetID); err != nil {
		return nil, fmt.Errorf("failed to get observations: %w", err)
	}

	observations := make([]types.Observation, 0, len(rows))
	for _, row := range rows {
		obs := types.Observation{
			ID:         row.ID,
			TargetID:   row.TargetID,
			Host:       row.Host,
			StatusCode: row.StatusCode,
			CreatedAt:  row.CreatedAt,
		}
		if row.HeaderNames != "" {
			if err := json.Unmarshal([]byte(row.HeaderNames), &obs.HeaderNames); err != nil {
				s.logger.Warnw("Failed to unmarshal header names", "observation_id", row.ID, "error", err)
			}
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

func (s *sqlStore) GetKillSwitch(ctx context.Context) (*types.KillSwitch, error) {
	var ks types.KillSwitch
	query := "SELECT active, reason, activated_at, deactivated_at FROM kill_switch WHERE id = 1"
	if err := s.db.GetContext(ctx, &ks, query); err != nil {
		if err == sql.ErrNoRows {
			return &types.KillSwitch{Active: false}, nil
		}
		return nil, fmt.Errorf("failed to get kill switch: %w", err)
	}
	return &ks, nil
}

func (s *sqlStore) SetKillSwitch(ctx context.Context, state *types.KillSwitch) error {
	start := time.Now()

	// Single-row table keyed on id=1.
	del := "DELETE FROM kill_switch WHERE id = 1"
	if _, err := s.db.ExecContext(ctx, del); err != nil {
		return fmt.Errorf("failed to clear kill switch: %w", err)
	}
	query := `
		INSERT INTO kill_switch (id, active, reason, activated_at, deactivated_at)
		VALUES (1, :active, :reason, :activated_at, :deactivated_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, state); err != nil {
		s.logger.LogError(ctx, err, "database.SetKillSwitch", "active", state.Active)
		return fmt.Errorf("failed to set kill switch: %w", err)
	}

	s.logger.LogDatabaseOperation(ctx, "UPSERT", "kill_switch", 1, time.Since(start),
		"active", state.Active,
		"reason", state.Reason,
	)
	return nil
}

// ForceStopRunningJobs moves every non-terminal test job to STOPPED.
// Called on kill switch activation; bypasses per-job transitions on
// purpose so a stuck job cannot survive an emergency stop.
func (s *sqlStore) ForceStopRunningJobs(ctx context.Context, reason string) (int64, error) {
	start := time.Now()
	query := fmt.Sprintf(`
		UPDATE test_jobs
		SET status = %s, error_message = %s, finished_at = %s
		WHERE status IN (%s, %s)
	`, s.getPlaceholder(1), s.getPlaceholder(2), s.getPlaceholder(3), s.getPlaceholder(4), s.getPlaceholder(5))

	result, err := s.db.ExecContext(ctx, query,
		string(types.JobStopped), reason, time.Now().UTC(),
		string(types.JobCreated), string(types.JobRunning),
	)
	if err != nil {
		s.logger.LogError(ctx, err, "database.ForceStopRunningJobs", "reason", reason)
		return 0, fmt.Errorf("failed to force-stop jobs: %w", err)
	}

	rows, _ := result.RowsAffected()
	s.logger.LogDatabaseOperation(ctx, "UPDATE", "test_jobs", rows, time.Since(start),
		"forced_status", string(types.JobStopped),
		"reason", reason,
	)
	return rows, nil
}

func (s *sqlStore) GetTargetStats(ctx context.Context, targetID string) (*core.TargetStats, error) {
	stats := &core.TargetStats{
		TargetID:           targetID,
		JobsByStatus:       map[string]int{},
		FindingsBySeverity: map[types.Severity]int{},
	}

	counts := []struct {
		table string
		dest  *int
	}{
		{"endpoints", &stats.Endpoints},
		{"clusters", &stats.Clusters},
		{"attack_candidates", &stats.Candidates},
	}
	for _, c := range counts {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE target_id = %s", c.table, s.getPlaceholder(1))
		if err := s.db.GetContext(ctx, c.dest, query, targetID); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	paramQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM parameters p
		JOIN clusters c ON c.id = p.cluster_id
		WHERE c.target_id = %s
	`, s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &stats.Parameters, paramQuery, targetID); err != nil {
		return nil, fmt.Errorf("failed to count parameters: %w", err)
	}

	approvedQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM attack_candidates
		WHERE target_id = %s AND approved_for_testing = TRUE AND rejected = FALSE
	`, s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &stats.ApprovedCount, approvedQuery, targetID); err != nil {
		return nil, fmt.Errorf("failed to count approved candidates: %w", err)
	}

	jobRows, err := s.db.QueryxContext(ctx, fmt.Sprintf(
		"SELECT status, COUNT(*) FROM test_jobs WHERE target_id = %s GROUP BY status", s.getPlaceholder(1)), targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer jobRows.Close()
	for jobRows.Next() {
		var status string
		var count int
		if err := jobRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job counts: %w", err)
		}
		stats.JobsByStatus[status] = count
	}
	if err := jobRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", err)
	}

	findingRows, err := s.db.QueryxContext(ctx, fmt.Sprintf(
		"SELECT severity, COUNT(*) FROM verified_findings WHERE target_id = %s GROUP BY severity", s.getPlaceholder(1)), targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to count findings by severity: %w", err)
	}
	defer findingRows.Close()
	for findingRows.Next() {
		var severity string
		var count int
		if err := findingRows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan finding counts: %w", err)
		}
		stats.FindingsBySeverity[types.Severity(severity)] = count
	}
	if err := findingRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate finding counts: %w", err)
	}

	return stats, nil
}
