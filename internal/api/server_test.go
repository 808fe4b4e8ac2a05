package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/control"
	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/database"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/internal/safety"
	"github.com/huntplane/huntplane/pkg/types"
)

// memQueue is an in-process JobQueue for API tests.
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

type apiFixture struct {
	server *Server
	store  core.Store
	queue  *memQueue
}

func newAPIFixture(t *testing.T, mutate func(cfg *config.Config)) *apiFixture {
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

	cfg := config.DefaultConfig()
	cfg.Security.EnableAuth = false
	if mutate != nil {
		mutate(cfg)
	}

	queue := &memQueue{}
	controller := control.NewController(store, queue, safety.NewGate(store, log), log)
	server := NewServer(cfg, controller, store, log)

	return &apiFixture{server: server, store: store, queue: queue}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeTarget(t *testing.T, rec *httptest.ResponseRecorder) *types.Target {
	t.Helper()
	var target types.Target
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &target))
	return &target
}

func (f *apiFixture) createTarget(t *testing.T) *types.Target {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/targets", map[string]interface{}{
		"name":   "acme",
		"domain": "acme.example",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeTarget(t, rec)
}

func (f *apiFixture) seedCandidate(t *testing.T, targetID string, approved bool) *types.AttackCandidate {
	t.Helper()
	ctx := context.Background()
	cluster := &types.Cluster{
		ID:                 uuid.New().String(),
		TargetID:           targetID,
		NormalizedPath:     "/api/orders/{id}",
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
		AffectedParameters: []string{"order_id"},
		Confidence:         75,
		AutoGenerated:      true,
		Reviewed:           approved,
		ApprovedForTesting: approved,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveCandidate(ctx, candidate))
	return candidate
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCreateAndGetTarget(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)
	assert.Equal(t, "acme.example", target.Domain)
	assert.True(t, target.Enabled)

	rec := f.do(t, http.MethodGet, "/api/targets/"+target.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, target.ID, decodeTarget(t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/targets", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var targets []types.Target
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &targets))
	assert.Len(t, targets, 1)
}

func TestCreateTarget_MissingDomain(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/targets", map[string]interface{}{"name": "acme"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTarget_NotFound(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/targets/"+uuid.New().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitTest_ApprovedCandidate(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	rec := f.do(t, http.MethodPost, "/api/tests", map[string]interface{}{
		"candidate_id": candidate.ID,
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job types.TestJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, types.JobCreated, job.Status)

	queued, err := f.queue.Pop(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, queued)
	assert.Equal(t, types.QueueKindTest, queued.Kind)
}

func TestSubmitTest_UnapprovedCandidateForbidden(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)
	candidate := f.seedCandidate(t, target.ID, false)

	rec := f.do(t, http.MethodPost, "/api/tests", map[string]interface{}{
		"candidate_id": candidate.ID,
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "not approved")
}

func TestCandidateReviewFlow(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)
	candidate := f.seedCandidate(t, target.ID, false)

	rec := f.do(t, http.MethodPost, "/api/candidates/"+candidate.ID+"/approve", map[string]interface{}{
		"notes": "looks exploitable",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved types.AttackCandidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.True(t, approved.ApprovedForTesting)
	assert.Equal(t, "looks exploitable", approved.UserNotes)

	rec = f.do(t, http.MethodPost, "/api/candidates/"+candidate.ID+"/reject", map[string]interface{}{
		"notes": "out of program scope",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rejected types.AttackCandidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejected))
	assert.True(t, rejected.Rejected)
	assert.False(t, rejected.ApprovedForTesting)

	rec = f.do(t, http.MethodGet, "/api/candidates?target_id="+target.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []types.AttackCandidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestKillSwitchLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	rec := f.do(t, http.MethodPost, "/api/killswitch", map[string]interface{}{
		"reason": "incident response",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/killswitch", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state types.KillSwitch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Active)
	assert.Equal(t, "incident response", state.Reason)

	rec = f.do(t, http.MethodPost, "/api/tests", map[string]interface{}{
		"candidate_id": candidate.ID,
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/killswitch", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/tests", map[string]interface{}{
		"candidate_id": candidate.ID,
	}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestKillSwitch_RequiresReason(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/killswitch", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPauseAndResumeTarget(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)

	rec := f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/pause", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeTarget(t, rec).Paused)

	rec = f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/resume", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeTarget(t, rec).Paused)
}

func TestStopJob(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)
	candidate := f.seedCandidate(t, target.ID, true)

	rec := f.do(t, http.MethodPost, "/api/tests", map[string]interface{}{
		"candidate_id": candidate.ID,
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job types.TestJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/stop", map[string]interface{}{
		"reason": "operator abort",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped types.TestJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, types.JobStopped, stopped.Status)
	assert.Equal(t, "operator abort", stopped.ErrorMessage)
}

func TestReviewFinding(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)

	finding := &types.VerifiedFinding{
		ID:                  uuid.New().String(),
		TestJobID:           uuid.New().String(),
		TargetID:            target.ID,
		AttackType:          types.AttackSQLi,
		Severity:            types.SeverityCritical,
		Confidence:          85,
		EndpointURL:         "https://acme.example/api/orders/1",
		VulnerableParameter: "order_id",
		PayloadUsed:         "'",
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveFinding(context.Background(), finding))

	rec := f.do(t, http.MethodPost, "/api/findings/"+finding.ID+"/review", map[string]interface{}{
		"confirmed": true,
		"notes":     "confirmed in staging",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reviewed types.VerifiedFinding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reviewed))
	assert.True(t, reviewed.HumanReviewed)
	require.NotNil(t, reviewed.HumanConfirmed)
	assert.True(t, *reviewed.HumanConfirmed)
}

func TestSubmitIntelligencePass(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)

	rec := f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/intelligence", map[string]interface{}{
		"stages": []string{types.StageClustering},
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	queued, err := f.queue.Pop(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, queued)
	assert.Equal(t, types.QueueKindIntelligence, queued.Kind)
}

func TestIngestEndpointsAndObservations(t *testing.T) {
	f := newAPIFixture(t, nil)
	target := f.createTarget(t)

	rec := f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/endpoints", map[string]interface{}{
		"endpoints": []map[string]interface{}{
			{"url": "https://acme.example/api/orders/1?user_id=1", "method": "GET", "parameter_names": []string{"user_id"}},
			{"url": "https://acme.example/api/orders/2?user_id=2"},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	endpoints, err := f.store.GetEndpoints(context.Background(), target.ID)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "GET", endpoints[0].Method)

	rec = f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/observations", map[string]interface{}{
		"observations": []map[string]interface{}{
			{"host": "acme.example", "status_code": 401, "header_names": []string{"WWW-Authenticate"}},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	observations, err := f.store.GetObservations(context.Background(), target.ID)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, 401, observations[0].StatusCode)

	rec = f.do(t, http.MethodPost, "/api/targets/"+uuid.New().String()+"/endpoints", map[string]interface{}{
		"endpoints": []map[string]interface{}{{"url": "https://acme.example/x"}},
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2-api-key"), bcrypt.MinCost)
	require.NoError(t, err)

	f := newAPIFixture(t, func(cfg *config.Config) {
		cfg.Security.EnableAuth = true
		cfg.Security.APIKeyHash = string(hash)
	})

	// Health stays open for probes.
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/targets", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/targets", nil, map[string]string{
		"Authorization": "Bearer wrong-key",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/targets", nil, map[string]string{
		"Authorization": "hunter2-api-key",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/targets", nil, map[string]string{
		"Authorization": "Bearer hunter2-api-key",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
