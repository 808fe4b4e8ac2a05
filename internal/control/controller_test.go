package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/database"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/internal/safety"
	"github.com/huntplane/huntplane/pkg/types"
)

// memQueue is an in-process JobQueue for controller tests.
type memQueue struct {
	mu   sync.Mutex
	jobs []*types.QueueJob
}

func (q *memQueue) Push(_ context.Context, job *types.QueueJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Pop(_ context.Context, _ string) (*types.QueueJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *memQueue) Complete(context.Context, string) error     { return nil }
func (q *memQueue) Fail(context.Context, string, string) error { return nil }
func (q *memQueue) Retry(context.Context, string) error        { return nil }
func (q *memQueue) Close() error                               { return nil }

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fixture struct {
	store      core.Store
	queue      *memQueue
	controller *Controller
	log        *logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := database.NewStore(config.DatabaseConfig{
		Driver:          "sqlite3",
		DSN:             ":memory:",
		MaxConnections:  1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	queue := &memQueue{}
	return &fixture{
		store:      store,
		queue:      queue,
		controller: NewController(store, queue, safety.NewGate(store, log), log),
		log:        log,
	}
}

func (f *fixture) seedTarget(t *testing.T) *types.Target {
	t.Helper()
	target, err := f.controller.CreateTarget(context.Background(), "acme", "acme.example", 10)
	require.NoError(t, err)
	return target
}

func (f *fixture) seedCandidate(t *testing.T, targetID string, approved bool) *types.AttackCandidate {
	t.Helper()
	ctx := context.Background()
	cluster := &types.Cluster{
		ID:                 uuid.New().String(),
		TargetID:           targetID,
		NormalizedPath:     "/api/users/{id}",
		HTTPMethod:         "GET",
		ParameterSignature: "sig",
		EndpointCount:      1,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveCluster(ctx, cluster))

	candidate := &types.AttackCandidate{
		ID:                 uuid.New().String(),
		ClusterID:          cluster.ID,
		TargetID:           targetID,
		AttackType:         types.AttackIDOR,
		RiskLevel:          types.RiskHigh,
		Reasoning:          "identifier parameter",
		AffectedParameters: []string{"user_id"},
		Confidence:         75,
		AutoGenerated:      true,
		Reviewed:           approved,
		ApprovedForTesting: approved,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveCandidate(ctx, candidate))
	return candidate
}

func TestSubmitTest_ApprovedCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	job, err := f.controller.SubmitTest(ctx, candidate.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCreated, job.Status)
	assert.Equal(t, candidate.ID, job.CandidateID)
	assert.Equal(t, 1, f.queue.len())

	queued, err := f.queue.Pop(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, types.QueueKindTest, queued.Kind)
	assert.Equal(t, job.ID, queued.ID)
}

func TestSubmitTest_UnapprovedCandidateBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)
	candidate := f.seedCandidate(t, target.ID, false)

	_, err := f.controller.SubmitTest(ctx, candidate.ID)
	var blocked *core.PolicyBlockedError
	require.ErrorAs(t, err, &blocked)

	jobs, err := f.store.ListTestJobs(ctx, core.JobFilter{TargetID: target.ID})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, 0, f.queue.len())
}

func TestSubmitTest_RejectedCandidateBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	_, err := f.controller.RejectCandidate(ctx, candidate.ID, "duplicate of earlier report")
	require.NoError(t, err)

	_, err = f.controller.SubmitTest(ctx, candidate.ID)
	var blocked *core.PolicyBlockedError
	require.ErrorAs(t, err, &blocked)
}

func TestSubmitTest_KillSwitchLeavesNoJobRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	_, err := f.controller.ActivateKillSwitch(ctx, "incident response")
	require.NoError(t, err)

	_, err = f.controller.SubmitTest(ctx, candidate.ID)
	var blocked *core.PolicyBlockedError
	require.ErrorAs(t, err, &blocked)

	jobs, err := f.store.ListTestJobs(ctx, core.JobFilter{TargetID: target.ID})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, 0, f.queue.len())

	require.NoError(t, f.controller.DeactivateKillSwitch(ctx))
	_, err = f.controller.SubmitTest(ctx, candidate.ID)
	require.NoError(t, err)
}

func TestSubmitTest_PausedTargetBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	_, err := f.controller.SetTargetPaused(ctx, target.ID, true)
	require.NoError(t, err)

	_, err = f.controller.SubmitTest(ctx, candidate.ID)
	var blocked *core.PolicyBlockedError
	require.ErrorAs(t, err, &blocked)
}

func TestApproveAndRejectCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)
	candidate := f.seedCandidate(t, target.ID, false)

	approved, err := f.controller.ApproveCandidate(ctx, candidate.ID, "looks exploitable")
	require.NoError(t, err)
	assert.True(t, approved.Reviewed)
	assert.True(t, approved.ApprovedForTesting)
	assert.False(t, approved.Rejected)
	assert.NotNil(t, approved.ReviewedAt)
	assert.Equal(t, "looks exploitable", approved.UserNotes)

	rejected, err := f.controller.RejectCandidate(ctx, candidate.ID, "out of program scope")
	require.NoError(t, err)
	assert.True(t, rejected.Rejected)
	assert.False(t, rejected.ApprovedForTesting)
}

func TestBatchSubmitApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)

	approved := f.seedCandidate(t, target.ID, true)
	f.seedCandidate(t, target.ID, false)

	jobs, err := f.controller.BatchSubmitApproved(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, approved.ID, jobs[0].CandidateID)

	// A second batch submits nothing: the approved candidate already
	// has a job.
	again, err := f.controller.BatchSubmitApproved(ctx, target.ID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSubmitIntelligencePass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)

	job, err := f.controller.SubmitIntelligencePass(ctx, target.ID, []string{types.StageClustering})
	require.NoError(t, err)
	assert.Equal(t, types.IntelQueued, job.Status)

	queued, err := f.queue.Pop(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, types.QueueKindIntelligence, queued.Kind)

	_, err = f.controller.SubmitIntelligencePass(ctx, target.ID, []string{"bogus"})
	require.Error(t, err)
}

func TestSubmitIntelligencePass_KillSwitchBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)

	_, err := f.controller.ActivateKillSwitch(ctx, "drill")
	require.NoError(t, err)

	_, err = f.controller.SubmitIntelligencePass(ctx, target.ID, nil)
	var blocked *core.PolicyBlockedError
	require.ErrorAs(t, err, &blocked)
}

func TestSubmitIntelligencePass_PausedTargetBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)

	_, err := f.controller.SetTargetPaused(ctx, target.ID, true)
	require.NoError(t, err)

	_, err = f.controller.SubmitIntelligencePass(ctx, target.ID, []string{types.StageClustering})
	var blocked *core.PolicyBlockedError
	require.ErrorAs(t, err, &blocked)

	assert.Equal(t, 0, f.queue.len())

	_, err = f.controller.SetTargetPaused(ctx, target.ID, false)
	require.NoError(t, err)
	_, err = f.controller.SubmitIntelligencePass(ctx, target.ID, []string{types.StageClustering})
	require.NoError(t, err)
}

func TestStopJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	job, err := f.controller.SubmitTest(ctx, candidate.ID)
	require.NoError(t, err)

	stopped, err := f.controller.StopJob(ctx, job.ID, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, types.JobStopped, stopped.Status)
	assert.Equal(t, "operator abort", stopped.ErrorMessage)

	_, err = f.controller.StopJob(ctx, job.ID, "again")
	require.Error(t, err)
}

func TestReviewFinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)

	finding := &types.VerifiedFinding{
		ID:                  uuid.New().String(),
		TestJobID:           uuid.New().String(),
		TargetID:            target.ID,
		AttackType:          types.AttackSQLi,
		Severity:            types.SeverityCritical,
		Confidence:          85,
		EndpointURL:         "https://acme.example/api/users/1",
		VulnerableParameter: "user_id",
		PayloadUsed:         "'",
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveFinding(ctx, finding))

	reviewed, err := f.controller.ReviewFinding(ctx, finding.ID, true, "confirmed in staging")
	require.NoError(t, err)
	assert.True(t, reviewed.HumanReviewed)
	require.NotNil(t, reviewed.HumanConfirmed)
	assert.True(t, *reviewed.HumanConfirmed)
	assert.Equal(t, "confirmed in staging", reviewed.ReviewerNotes)
	assert.NotNil(t, reviewed.ReviewedAt)
}

func TestTargetStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	_, err := f.controller.SubmitTest(ctx, candidate.ID)
	require.NoError(t, err)

	stats, err := f.controller.TargetStats(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Clusters)
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 1, stats.ApprovedCount)
	assert.Equal(t, 1, stats.JobsByStatus[string(types.JobCreated)])
}
