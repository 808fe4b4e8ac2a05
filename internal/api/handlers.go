package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/pkg/types"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createTargetRequest struct {
	Name      string `json:"name" binding:"required"`
	Domain    string `json:"domain" binding:"required"`
	RateLimit int    `json:"rate_limit"`
}

func (s *Server) handleCreateTarget(c *gin.Context) {
	var req createTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := s.controller.CreateTarget(c.Request.Context(), req.Name, req.Domain, req.RateLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventTargetChanged, target)
	c.JSON(http.StatusCreated, target)
}

func (s *Server) handleListTargets(c *gin.Context) {
	targets, err := s.store.ListTargets(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, targets)
}

func (s *Server) handleGetTarget(c *gin.Context) {
	target, err := s.store.GetTarget(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
		return
	}
	c.JSON(http.StatusOK, target)
}

func (s *Server) handleTargetStats(c *gin.Context) {
	stats, err := s.controller.TargetStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type intelligenceRequest struct {
	Stages []string `json:"stages"`
}

func (s *Server) handleSubmitIntelligence(c *gin.Context) {
	var req intelligenceRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.controller.SubmitIntelligencePass(c.Request.Context(), c.Param("id"), req.Stages)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventIntelSubmitted, job)
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handlePauseTarget(paused bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := s.controller.SetTargetPaused(c.Request.Context(), c.Param("id"), paused)
		if err != nil {
			writeError(c, err)
			return
		}
		s.hub.Publish(EventTargetChanged, target)
		c.JSON(http.StatusOK, target)
	}
}

func (s *Server) handleEnableTarget(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := s.controller.SetTargetEnabled(c.Request.Context(), c.Param("id"), enabled)
		if err != nil {
			writeError(c, err)
			return
		}
		s.hub.Publish(EventTargetChanged, target)
		c.JSON(http.StatusOK, target)
	}
}

type ingestEndpointsRequest struct {
	Endpoints []struct {
		URL            string   `json:"url" binding:"required"`
		Method         string   `json:"method"`
		ParameterNames []string `json:"parameter_names"`
	} `json:"endpoints" binding:"required"`
}

// handleIngestEndpoints accepts the reconnaissance feed. External tools
// push discovered endpoints here; the intelligence pipeline consumes
// them on the next pass.
func (s *Server) handleIngestEndpoints(c *gin.Context) {
	targetID := c.Param("id")
	if _, err := s.store.GetTarget(c.Request.Context(), targetID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
		return
	}

	var req ingestEndpointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	endpoints := make([]types.Endpoint, 0, len(req.Endpoints))
	for _, e := range req.Endpoints {
		method := e.Method
		if method == "" {
			method = "GET"
		}
		endpoints = append(endpoints, types.Endpoint{
			ID:             uuid.New().String(),
			TargetID:       targetID,
			URL:            e.URL,
			Method:         method,
			ParameterNames: e.ParameterNames,
			CreatedAt:      now,
		})
	}
	if err := s.store.SaveEndpoints(c.Request.Context(), endpoints); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ingested": len(endpoints)})
}

type ingestObservationsRequest struct {
	Observations []struct {
		Host        string   `json:"host" binding:"required"`
		StatusCode  int      `json:"status_code"`
		HeaderNames []string `json:"header_names"`
	} `json:"observations" binding:"required"`
}

func (s *Server) handleIngestObservations(c *gin.Context) {
	targetID := c.Param("id")
	if _, err := s.store.GetTarget(c.Request.Context(), targetID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
		return
	}

	var req ingestObservationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	observations := make([]types.Observation, 0, len(req.Observations))
	for _, o := range req.Observations {
		observations = append(observations, types.Observation{
			ID:          uuid.New().String(),
			TargetID:    targetID,
			Host:        o.Host,
			StatusCode:  o.StatusCode,
			HeaderNames: o.HeaderNames,
			CreatedAt:   now,
		})
	}
	if err := s.store.SaveObservations(c.Request.Context(), observations); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ingested": len(observations)})
}

func (s *Server) handleListClusters(c *gin.Context) {
	clusters, err := s.store.ListClusters(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, clusters)
}

func (s *Server) handleListFindings(c *gin.Context) {
	findings, err := s.store.ListFindings(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, findings)
}

func (s *Server) handleListCandidates(c *gin.Context) {
	filter := core.CandidateFilter{
		TargetID:   c.Query("target_id"),
		ClusterID:  c.Query("cluster_id"),
		AttackType: types.AttackType(c.Query("attack_type")),
	}
	if v := c.Query("approved"); v != "" {
		approved := v == "true"
		filter.ApprovedForTesting = &approved
	}
	if v := c.Query("reviewed"); v != "" {
		reviewed := v == "true"
		filter.Reviewed = &reviewed
	}
	candidates, err := s.store.ListCandidates(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, candidates)
}

func (s *Server) handleGetCandidate(c *gin.Context) {
	candidate, err := s.store.GetCandidate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "candidate not found"})
		return
	}
	c.JSON(http.StatusOK, candidate)
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleApproveCandidate(c *gin.Context) {
	var req reviewRequest
	_ = c.ShouldBindJSON(&req)
	candidate, err := s.controller.ApproveCandidate(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventCandidateReviewed, candidate)
	c.JSON(http.StatusOK, candidate)
}

func (s *Server) handleRejectCandidate(c *gin.Context) {
	var req reviewRequest
	_ = c.ShouldBindJSON(&req)
	candidate, err := s.controller.RejectCandidate(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventCandidateReviewed, candidate)
	c.JSON(http.StatusOK, candidate)
}

type noteRequest struct {
	Note string `json:"note" binding:"required"`
}

func (s *Server) handleAddCandidateNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	candidate, err := s.controller.AddCandidateNote(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, candidate)
}

type submitTestRequest struct {
	CandidateID string `json:"candidate_id" binding:"required"`
}

func (s *Server) handleSubmitTest(c *gin.Context) {
	var req submitTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.controller.SubmitTest(c.Request.Context(), req.CandidateID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventJobSubmitted, job)
	c.JSON(http.StatusAccepted, job)
}

type batchSubmitRequest struct {
	TargetID string `json:"target_id" binding:"required"`
}

func (s *Server) handleBatchSubmit(c *gin.Context) {
	var req batchSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	jobs, err := s.controller.BatchSubmitApproved(c.Request.Context(), req.TargetID)
	if err != nil {
		writeError(c, err)
		return
	}
	for _, job := range jobs {
		s.hub.Publish(EventJobSubmitted, job)
	}
	c.JSON(http.StatusAccepted, gin.H{"submitted": len(jobs), "jobs": jobs})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.store.GetTestJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleJobResults(c *gin.Context) {
	results, err := s.store.ListTestResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

type stopJobRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleStopJob(c *gin.Context) {
	var req stopJobRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "stopped by operator"
	}
	job, err := s.controller.StopJob(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventJobStopped, job)
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleGetFinding(c *gin.Context) {
	finding, err := s.store.GetFinding(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "finding not found"})
		return
	}
	c.JSON(http.StatusOK, finding)
}

type reviewFindingRequest struct {
	Confirmed *bool  `json:"confirmed" binding:"required"`
	Notes     string `json:"notes"`
}

func (s *Server) handleReviewFinding(c *gin.Context) {
	var req reviewFindingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	finding, err := s.controller.ReviewFinding(c.Request.Context(), c.Param("id"), *req.Confirmed, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventFindingReviewed, finding)
	c.JSON(http.StatusOK, finding)
}

func (s *Server) handleKillSwitchState(c *gin.Context) {
	state, err := s.controller.KillSwitchState(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type killSwitchRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleActivateKillSwitch(c *gin.Context) {
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stopped, err := s.controller.ActivateKillSwitch(c.Request.Context(), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventKillSwitch, gin.H{"active": true, "reason": req.Reason, "jobs_stopped": stopped})
	c.JSON(http.StatusOK, gin.H{"active": true, "jobs_stopped": stopped})
}

func (s *Server) handleDeactivateKillSwitch(c *gin.Context) {
	if err := s.controller.DeactivateKillSwitch(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	s.hub.Publish(EventKillSwitch, gin.H{"active": false})
	c.JSON(http.StatusOK, gin.H{"active": false})
}
