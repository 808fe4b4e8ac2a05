package core

import (
	"context"
	"time"

	"github.com/huntplane/huntplane/pkg/types"
)

type JobQueue interface {
	Push(ctx context.Context, job *types.QueueJob) error
	Pop(ctx context.Context, workerID string) (*types.QueueJob, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, reason string) error
	Retry(ctx context.Context, jobID string) error
	Close() error
}

// Store is the persistence surface for the whole control plane. One
// implementation backs both the intelligence pipeline and the testing
// orchestrator so that uniqueness guarantees live in one place.
type Store interface {
	// Targets
	SaveTarget(ctx context.Context, target *types.Target) error
	UpdateTarget(ctx context.Context, target *types.Target) error
	GetTarget(ctx context.Context, targetID string) (*types.Target, error)
	ListTargets(ctx context.Context) ([]*types.Target, error)

	// Raw reconnaissance input
	SaveEndpoints(ctx context.Context, endpoints []types.Endpoint) error
	GetEndpoints(ctx context.Context, targetID string) ([]types.Endpoint, error)
	SaveObservations(ctx context.Context, observations []types.Observation) error
	GetObservations(ctx context.Context, targetID string) ([]types.Observation, error)

	// Synthesized intelligence
	SaveCluster(ctx context.Context, cluster *types.Cluster) error
	UpdateCluster(ctx context.Context, cluster *types.Cluster) error
	GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error)
	FindCluster(ctx context.Context, targetID, normalizedPath, method, paramSignature string) (*types.Cluster, error)
	ListClusters(ctx context.Context, targetID string) ([]*types.Cluster, error)

	SaveParameter(ctx context.Context, param *types.Parameter) error
	FindParameter(ctx context.Context, clusterID, name string) (*types.Parameter, error)
	ListParameters(ctx context.Context, clusterID string) ([]*types.Parameter, error)

	SaveAuthSurface(ctx context.Context, surface *types.AuthSurface) error
	GetAuthSurface(ctx context.Context, clusterID string) (*types.AuthSurface, error)

	SaveResponseDiff(ctx context.Context, diff *types.ResponseDiff) error
	ListResponseDiffs(ctx context.Context, clusterID string) ([]*types.ResponseDiff, error)

	SaveCandidate(ctx context.Context, candidate *types.AttackCandidate) error
	UpdateCandidate(ctx context.Context, candidate *types.AttackCandidate) error
	GetCandidate(ctx context.Context, candidateID string) (*types.AttackCandidate, error)
	FindCandidate(ctx context.Context, clusterID string, attackType types.AttackType) (*types.AttackCandidate, error)
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]*types.AttackCandidate, error)

	// Payload library
	SavePayload(ctx context.Context, payload *types.Payload) error
	FindPayload(ctx context.Context, attackType types.AttackType, payloadString string) (*types.Payload, error)
	GetPayloads(ctx context.Context, attackType types.AttackType) ([]*types.Payload, error)

	// Testing pipeline
	SaveTestJob(ctx context.Context, job *types.TestJob) error
	UpdateTestJob(ctx context.Context, job *types.TestJob) error
	GetTestJob(ctx context.Context, jobID string) (*types.TestJob, error)
	ListTestJobs(ctx context.Context, filter JobFilter) ([]*types.TestJob, error)

	SaveTestResult(ctx context.Context, result *types.TestResult) error
	ListTestResults(ctx context.Context, jobID string) ([]*types.TestResult, error)

	SaveFinding(ctx context.Context, finding *types.VerifiedFinding) error
	UpdateFinding(ctx context.Context, finding *types.VerifiedFinding) error
	GetFinding(ctx context.Context, findingID string) (*types.VerifiedFinding, error)
	ListFindings(ctx context.Context, targetID string) ([]*types.VerifiedFinding, error)

	SaveFeedback(ctx context.Context, feedback *types.TestJobFeedback) error
	ListFeedback(ctx context.Context, candidateID string) ([]*types.TestJobFeedback, error)

	// Intelligence jobs
	SaveIntelligenceJob(ctx context.Context, job *types.IntelligenceJob) error
	UpdateIntelligenceJob(ctx context.Context, job *types.IntelligenceJob) error
	GetIntelligenceJob(ctx context.Context, jobID string) (*types.IntelligenceJob, error)

	// Kill switch
	GetKillSwitch(ctx context.Context) (*types.KillSwitch, error)
	SetKillSwitch(ctx context.Context, state *types.KillSwitch) error
	ForceStopRunningJobs(ctx context.Context, reason string) (int64, error)

	GetTargetStats(ctx context.Context, targetID string) (*TargetStats, error)
	Close() error
}

type CandidateFilter struct {
	TargetID           string
	ClusterID          string
	AttackType         types.AttackType
	ApprovedForTesting *bool
	Reviewed           *bool
	Limit              int
	Offset             int
}

type JobFilter struct {
	TargetID    string
	CandidateID string
	Status      types.JobStatus
	Limit       int
	Offset      int
}

// TargetStats summarizes pipeline throughput for one target.
type TargetStats struct {
	TargetID           string                 `json:"target_id"`
	Endpoints          int                    `json:"endpoints"`
	Clusters           int                    `json:"clusters"`
	Parameters         int                    `json:"parameters"`
	Candidates         int                    `json:"candidates"`
	ApprovedCount      int                    `json:"approved_count"`
	JobsByStatus       map[string]int         `json:"jobs_by_status"`
	FindingsBySeverity map[types.Severity]int `json:"findings_by_severity"`
}

type Worker interface {
	ID() string
	Start(ctx context.Context) error
	Stop() error
	Status() *types.WorkerStatus
}

type WorkerPool interface {
	Start(ctx context.Context, workers int) error
	Stop() error
	Status() []*types.WorkerStatus
}

type RateLimiter interface {
	Wait(ctx context.Context, target string) error
	SetLimit(target string, requestsPerSecond int)
}

// ScopeValidator decides whether a URL may receive test traffic.
type ScopeValidator interface {
	IsInScope(rawURL string, targetDomain string) error
}

// SafetyGate is consulted before starting work and between payload
// requests. Implementations combine the global kill switch with
// per-target enabled/paused state.
type SafetyGate interface {
	IsActive(ctx context.Context) (bool, string, error)
	CanRun(ctx context.Context, targetID string) error
}

type Telemetry interface {
	RecordJob(kind string, duration time.Duration, success bool)
	RecordFinding(severity types.Severity)
	RecordWorkerMetrics(status *types.WorkerStatus)
	Close() error
}
