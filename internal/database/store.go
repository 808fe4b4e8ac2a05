package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
)

type sqlStore struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

// getPlaceholder returns the appropriate placeholder for the database driver
func (s *sqlStore) getPlaceholder(n int) string {
	if s.cfg.Driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func NewStore(cfg config.DatabaseConfig) (core.Store, error) {
	log, err := logger.New(config.LoggerConfig{Level: "debug", Format: "json"})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database logger: %w", err)
	}
	log = log.WithComponent("database")

	ctx := context.Background()
	ctx, span := log.StartOperation(ctx, "database.NewStore",
		"driver", cfg.Driver,
		"dsn_masked", maskDSN(cfg.DSN),
		"max_connections", cfg.MaxConnections,
	)
	defer func() {
		log.FinishOperation(ctx, span, "database.NewStore", time.Now(), err)
	}()

	start := time.Now()
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		log.LogError(ctx, err, "database.Connect",
			"driver", cfg.Driver,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.LogDuration(ctx, "database.Connect", start,
		"driver", cfg.Driver,
		"success", true,
	)

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &sqlStore{
		db:     db,
		cfg:    cfg,
		logger: log,
	}

	migrateStart := time.Now()
	if err := store.migrate(); err != nil {
		log.LogError(ctx, err, "database.Migrate",
			"duration_ms", time.Since(migrateStart).Milliseconds(),
		)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.WithContext(ctx).Infow("Database store initialized",
		"driver", cfg.Driver,
		"total_init_duration_ms", time.Since(start).Milliseconds(),
	)

	return store, nil
}

// maskDSN masks sensitive information in DSN for logging
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

func (s *sqlStore) migrate() error {
	ctx := context.Background()
	ctx, span := s.logger.StartOperation(ctx, "database.migrate",
		"driver", s.cfg.Driver,
	)
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.migrate", time.Now(), nil)
	}()

	if s.cfg.Driver == "sqlite3" {
		if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		paused BOOLEAN NOT NULL DEFAULT FALSE,
		rate_limit INTEGER NOT NULL DEFAULT 10,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		url TEXT NOT NULL,
		method TEXT NOT NULL,
		parameter_names TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		host TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		header_names TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		normalized_path TEXT NOT NULL,
		http_method TEXT NOT NULL,
		parameter_signature TEXT NOT NULL,
		endpoint_count INTEGER NOT NULL DEFAULT 0,
		has_auth BOOLEAN,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS parameters (
		id TEXT PRIMARY KEY,
		cluster_id TEXT NOT NULL,
		name TEXT NOT NULL,
		data_type TEXT NOT NULL,
		semantic_role TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 0,
		sample_values TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_surfaces (
		id TEXT PRIMARY KEY,
		cluster_id TEXT NOT NULL,
		is_authenticated BOOLEAN,
		auth_type TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS response_diffs (
		id TEXT PRIMARY KEY,
		cluster_id TEXT NOT NULL,
		endpoint_a TEXT NOT NULL,
		endpoint_b TEXT NOT NULL,
		hash_a TEXT,
		hash_b TEXT,
		suspicious BOOLEAN NOT NULL DEFAULT FALSE,
		diff_type TEXT,
		notes TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attack_candidates (
		id TEXT PRIMARY KEY,
		cluster_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		attack_type TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		reasoning TEXT,
		affected_parameters TEXT,
		confidence INTEGER NOT NULL DEFAULT 0,
		auto_generated BOOLEAN NOT NULL DEFAULT TRUE,
		reviewed BOOLEAN NOT NULL DEFAULT FALSE,
		approved_for_testing BOOLEAN NOT NULL DEFAULT FALSE,
		rejected BOOLEAN NOT NULL DEFAULT FALSE,
		user_notes TEXT,
		reviewed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payloads (
		id TEXT PRIMARY KEY,
		attack_type TEXT NOT NULL,
		payload_string TEXT NOT NULL,
		payload_type TEXT NOT NULL,
		detection_pattern TEXT,
		confidence_weight INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_safe BOOLEAN NOT NULL DEFAULT TRUE,
		description TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS test_jobs (
		id TEXT PRIMARY KEY,
		candidate_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payloads_tested INTEGER NOT NULL DEFAULT 0,
		signals_detected INTEGER NOT NULL DEFAULT 0,
		confidence INTEGER NOT NULL DEFAULT 0,
		execution_metadata TEXT,
		error_message TEXT,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS test_results (
		id TEXT PRIMARY KEY,
		test_job_id TEXT NOT NULL,
		payload_id TEXT NOT NULL,
		request_url TEXT NOT NULL,
		request_method TEXT NOT NULL,
		request_headers TEXT,
		request_body TEXT,
		response_status INTEGER NOT NULL DEFAULT 0,
		response_headers TEXT,
		response_body TEXT,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		signal_detected BOOLEAN NOT NULL DEFAULT FALSE,
		signal_type TEXT,
		signal_evidence TEXT,
		confidence_delta INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS verified_findings (
		id TEXT PRIMARY KEY,
		test_job_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		attack_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 0,
		endpoint_url TEXT,
		vulnerable_parameter TEXT,
		payload_used TEXT,
		proof_of_concept TEXT,
		evidence TEXT,
		reasoning TEXT,
		reproduction_steps TEXT,
		false_positive_probability INTEGER NOT NULL DEFAULT 0,
		human_reviewed BOOLEAN NOT NULL DEFAULT FALSE,
		human_confirmed BOOLEAN,
		reviewer_notes TEXT,
		reviewed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS test_job_feedback (
		id TEXT PRIMARY KEY,
		test_job_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 0,
		false_positive BOOLEAN NOT NULL DEFAULT FALSE,
		reasoning TEXT,
		adjustments_suggested TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intelligence_jobs (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		stages TEXT,
		status TEXT NOT NULL,
		results_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kill_switch (
		id INTEGER PRIMARY KEY,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		reason TEXT,
		activated_at TIMESTAMP,
		deactivated_at TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_clusters_key
		ON clusters(target_id, normalized_path, http_method, parameter_signature);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_parameters_cluster_name
		ON parameters(cluster_id, name);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_auth_surfaces_cluster
		ON auth_surfaces(cluster_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_candidates_cluster_type
		ON attack_candidates(cluster_id, attack_type);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payloads_type_string
		ON payloads(attack_type, payload_string);
	CREATE INDEX IF NOT EXISTS idx_endpoints_target ON endpoints(target_id);
	CREATE INDEX IF NOT EXISTS idx_observations_target ON observations(target_id);
	CREATE INDEX IF NOT EXISTS idx_clusters_target ON clusters(target_id);
	CREATE INDEX IF NOT EXISTS idx_candidates_target ON attack_candidates(target_id);
	CREATE INDEX IF NOT EXISTS idx_test_jobs_target ON test_jobs(target_id);
	CREATE INDEX IF NOT EXISTS idx_test_jobs_status ON test_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_test_results_job ON test_results(test_job_id);
	CREATE INDEX IF NOT EXISTS idx_findings_target ON verified_findings(target_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_candidate ON test_job_feedback(candidate_id);
	`

	start := time.Now()
	if _, err := s.db.Exec(schema); err != nil {
		s.logger.LogError(ctx, err, "database.migrate.schema",
			"duration_ms", time.Since(start).Milliseconds(),
			"driver", s.cfg.Driver,
		)
		return err
	}

	s.logger.LogDuration(ctx, "database.migrate.schema", start,
		"driver", s.cfg.Driver,
		"success", true,
	)

	return nil
}

func (s *sqlStore) Close() error {
	s.logger.Infow("Closing database connection")
	return s.db.Close()
}
