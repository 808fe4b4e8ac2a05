package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/pkg/types"
)

func newTestStore(t *testing.T) core.Store {
	t.Helper()
	store, err := NewStore(config.DatabaseConfig{
		Driver:          "sqlite3",
		DSN:             ":memory:",
		MaxConnections:  1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestTarget(t *testing.T, store core.Store) *types.Target {
	t.Helper()
	target := &types.Target{
		ID:        uuid.New().String(),
		Name:      "acme",
		Domain:    "acme.example",
		Enabled:   true,
		RateLimit: 10,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveTarget(context.Background(), target))
	return target
}

func TestTargetLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	target := newTestTarget(t, store)

	got, err := store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, target.Domain, got.Domain)
	assert.True(t, got.Enabled)
	assert.False(t, got.Paused)

	got.Paused = true
	require.NoError(t, store.UpdateTarget(ctx, got))

	got, err = store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, got.Paused)

	targets, err := store.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

func TestEndpointsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	endpoints := []types.Endpoint{
		{
			ID:             uuid.New().String(),
			TargetID:       target.ID,
			URL:            "https://acme.example/api/users/42?page=1",
			Method:         "GET",
			ParameterNames: []string{"page"},
			CreatedAt:      time.Now().UTC(),
		},
		{
			ID:        uuid.New().String(),
			TargetID:  target.ID,
			URL:       "https://acme.example/api/users/43",
			Method:    "GET",
			CreatedAt: time.Now().UTC(),
		},
	}
	require.NoError(t, store.SaveEndpoints(ctx, endpoints))

	got, err := store.GetEndpoints(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"page"}, got[0].ParameterNames)
}

func TestClusterUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	cluster := &types.Cluster{
		ID:                 uuid.New().String(),
		TargetID:           target.ID,
		NormalizedPath:     "/api/users/{id}",
		HTTPMethod:         "GET",
		ParameterSignature: "no_params",
		EndpointCount:      2,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, store.SaveCluster(ctx, cluster))

	dup := *cluster
	dup.ID = uuid.New().String()
	assert.Error(t, store.SaveCluster(ctx, &dup), "duplicate cluster key must be rejected")

	found, err := store.FindCluster(ctx, target.ID, "/api/users/{id}", "GET", "no_params")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, cluster.ID, found.ID)

	missing, err := store.FindCluster(ctx, target.ID, "/api/orders/{id}", "GET", "no_params")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestParameterUniquenessPerCluster(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	cluster := &types.Cluster{
		ID:                 uuid.New().String(),
		TargetID:           target.ID,
		NormalizedPath:     "/search",
		HTTPMethod:         "GET",
		ParameterSignature: "abc123",
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, store.SaveCluster(ctx, cluster))

	param := &types.Parameter{
		ID:           uuid.New().String(),
		ClusterID:    cluster.ID,
		Name:         "q",
		DataType:     types.DataTypeString,
		SemanticRole: types.RoleSearch,
		Confidence:   90,
		SampleValues: []string{"shoes", "boots"},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.SaveParameter(ctx, param))

	dup := *param
	dup.ID = uuid.New().String()
	assert.Error(t, store.SaveParameter(ctx, &dup))

	found, err := store.FindParameter(ctx, cluster.ID, "q")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, types.RoleSearch, found.SemanticRole)
	assert.Equal(t, []string{"shoes", "boots"}, found.SampleValues)
}

func TestCandidateUniquenessAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	cluster := &types.Cluster{
		ID:                 uuid.New().String(),
		TargetID:           target.ID,
		NormalizedPath:     "/api/items/{id}",
		HTTPMethod:         "GET",
		ParameterSignature: "no_params",
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, store.SaveCluster(ctx, cluster))

	candidate := &types.AttackCandidate{
		ID:                 uuid.New().String(),
		ClusterID:          cluster.ID,
		TargetID:           target.ID,
		AttackType:         types.AttackIDOR,
		RiskLevel:          types.RiskHigh,
		Reasoning:          "Endpoint exposes identifier parameters: item_id",
		AffectedParameters: []string{"item_id"},
		Confidence:         75,
		AutoGenerated:      true,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, store.SaveCandidate(ctx, candidate))

	dup := *candidate
	dup.ID = uuid.New().String()
	assert.Error(t, store.SaveCandidate(ctx, &dup), "one candidate per cluster and attack type")

	// Different attack type on the same cluster is fine.
	other := *candidate
	other.ID = uuid.New().String()
	other.AttackType = types.AttackSQLi
	require.NoError(t, store.SaveCandidate(ctx, &other))

	approved := true
	list, err := store.ListCandidates(ctx, core.CandidateFilter{TargetID: target.ID, ApprovedForTesting: &approved})
	require.NoError(t, err)
	assert.Empty(t, list)

	candidate.ApprovedForTesting = true
	candidate.Reviewed = true
	require.NoError(t, store.UpdateCandidate(ctx, candidate))

	list, err = store.ListCandidates(ctx, core.CandidateFilter{TargetID: target.ID, ApprovedForTesting: &approved})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.AttackIDOR, list[0].AttackType)
	assert.Equal(t, []string{"item_id"}, list[0].AffectedParameters)
}

func TestPayloadIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := &types.Payload{
		ID:               uuid.New().String(),
		AttackType:       types.AttackXSS,
		PayloadString:    "<script>alert(1)</script>",
		PayloadType:      "basic_reflection",
		DetectionPattern: `<script>alert\(1\)</script>`,
		ConfidenceWeight: 15,
		IsActive:         true,
		IsSafe:           true,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.SavePayload(ctx, payload))

	dup := *payload
	dup.ID = uuid.New().String()
	assert.Error(t, store.SavePayload(ctx, &dup))

	found, err := store.FindPayload(ctx, types.AttackXSS, "<script>alert(1)</script>")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 15, found.ConfidenceWeight)

	payloads, err := store.GetPayloads(ctx, types.AttackXSS)
	require.NoError(t, err)
	assert.Len(t, payloads, 1)
}

func TestTestJobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	job := &types.TestJob{
		ID:          uuid.New().String(),
		CandidateID: uuid.New().String(),
		TargetID:    target.ID,
		Status:      types.JobCreated,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveTestJob(ctx, job))

	require.NoError(t, job.Transition(types.JobRunning))
	job.PayloadsTested = 4
	job.SignalsDetected = 2
	require.NoError(t, store.UpdateTestJob(ctx, job))

	got, err := store.GetTestJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, got.Status)
	assert.Equal(t, 4, got.PayloadsTested)
	assert.NotNil(t, got.StartedAt)

	jobs, err := store.ListTestJobs(ctx, core.JobFilter{TargetID: target.ID, Status: types.JobRunning})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestForceStopRunningJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	for _, status := range []types.JobStatus{types.JobCreated, types.JobRunning, types.JobVerified} {
		job := &types.TestJob{
			ID:          uuid.New().String(),
			CandidateID: uuid.New().String(),
			TargetID:    target.ID,
			Status:      status,
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, store.SaveTestJob(ctx, job))
	}

	stopped, err := store.ForceStopRunningJobs(ctx, "kill switch activated")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stopped, "terminal jobs must not be touched")

	jobs, err := store.ListTestJobs(ctx, core.JobFilter{TargetID: target.ID, Status: types.JobStopped})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, "kill switch activated", job.ErrorMessage)
		assert.NotNil(t, job.FinishedAt)
	}
}

func TestKillSwitchState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ks, err := store.GetKillSwitch(ctx)
	require.NoError(t, err)
	assert.False(t, ks.Active)

	now := time.Now().UTC()
	require.NoError(t, store.SetKillSwitch(ctx, &types.KillSwitch{
		Active:      true,
		Reason:      "program paused by operator",
		ActivatedAt: &now,
	}))

	ks, err = store.GetKillSwitch(ctx)
	require.NoError(t, err)
	assert.True(t, ks.Active)
	assert.Equal(t, "program paused by operator", ks.Reason)

	require.NoError(t, store.SetKillSwitch(ctx, &types.KillSwitch{Active: false, DeactivatedAt: &now}))
	ks, err = store.GetKillSwitch(ctx)
	require.NoError(t, err)
	assert.False(t, ks.Active)
}

func TestFindingAndFeedback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	finding := &types.VerifiedFinding{
		ID:                  uuid.New().String(),
		TestJobID:           uuid.New().String(),
		TargetID:            target.ID,
		AttackType:          types.AttackSQLi,
		Severity:            types.SeverityCritical,
		Confidence:          82,
		EndpointURL:         "https://acme.example/api/users?id=1",
		VulnerableParameter: "id",
		PayloadUsed:         "'",
		FalsePositiveProb:   18,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, store.SaveFinding(ctx, finding))

	confirmed := true
	now := time.Now().UTC()
	finding.HumanReviewed = true
	finding.HumanConfirmed = &confirmed
	finding.ReviewerNotes = "reproduced manually"
	finding.ReviewedAt = &now
	require.NoError(t, store.UpdateFinding(ctx, finding))

	got, err := store.GetFinding(ctx, finding.ID)
	require.NoError(t, err)
	assert.True(t, got.HumanReviewed)
	require.NotNil(t, got.HumanConfirmed)
	assert.True(t, *got.HumanConfirmed)

	feedback := &types.TestJobFeedback{
		ID:                   uuid.New().String(),
		TestJobID:            finding.TestJobID,
		CandidateID:          uuid.New().String(),
		Outcome:              types.OutcomeVerified,
		Confidence:           82,
		AdjustmentsSuggested: "No adjustments suggested",
		CreatedAt:            time.Now().UTC(),
	}
	require.NoError(t, store.SaveFeedback(ctx, feedback))

	list, err := store.ListFeedback(ctx, feedback.CandidateID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.OutcomeVerified, list[0].Outcome)
	assert.False(t, list[0].FalsePositive)
}

func TestIntelligenceJobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	job := &types.IntelligenceJob{
		ID:        uuid.New().String(),
		TargetID:  target.ID,
		Stages:    []string{types.StageClustering, types.StageParameters},
		Status:    types.IntelQueued,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveIntelligenceJob(ctx, job))

	require.NoError(t, job.Transition(types.IntelRunning))
	require.NoError(t, job.Transition(types.IntelDone))
	job.ResultsCount = 12
	require.NoError(t, store.UpdateIntelligenceJob(ctx, job))

	got, err := store.GetIntelligenceJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.IntelDone, got.Status)
	assert.Equal(t, 12, got.ResultsCount)
	assert.Equal(t, []string{types.StageClustering, types.StageParameters}, got.Stages)
}

func TestTargetStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	target := newTestTarget(t, store)

	cluster := &types.Cluster{
		ID:                 uuid.New().String(),
		TargetID:           target.ID,
		NormalizedPath:     "/api/users/{id}",
		HTTPMethod:         "GET",
		ParameterSignature: "no_params",
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, store.SaveCluster(ctx, cluster))

	job := &types.TestJob{
		ID:          uuid.New().String(),
		CandidateID: uuid.New().String(),
		TargetID:    target.ID,
		Status:      types.JobVerified,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveTestJob(ctx, job))

	stats, err := store.GetTargetStats(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Clusters)
	assert.Equal(t, 0, stats.Endpoints)
	assert.Equal(t, 1, stats.JobsByStatus[string(types.JobVerified)])
}
