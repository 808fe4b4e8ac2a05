// Package api exposes the control plane over HTTP: target and
// candidate management, test submission, finding review, the kill
// switch and a websocket event stream.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/huntplane/huntplane/internal/config"
	"github.com/huntplane/huntplane/internal/control"
	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	controller *control.Controller
	store      core.Store
	hub        *EventHub
	log        *logger.Logger
}

func NewServer(cfg *config.Config, controller *control.Controller, store core.Store, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(log))
	router.Use(AuthMiddleware(cfg.Security, log))

	s := &Server{
		router:     router,
		controller: controller,
		store:      store,
		hub:        NewEventHub(log),
		log:        log.WithComponent("api"),
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:    cfg.API.Addr,
		Handler: router,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.POST("/targets", s.handleCreateTarget)
		api.GET("/targets", s.handleListTargets)
		api.GET("/targets/:id", s.handleGetTarget)
		api.GET("/targets/:id/stats", s.handleTargetStats)
		api.POST("/targets/:id/intelligence", s.handleSubmitIntelligence)
		api.POST("/targets/:id/pause", s.handlePauseTarget(true))
		api.POST("/targets/:id/resume", s.handlePauseTarget(false))
		api.POST("/targets/:id/enable", s.handleEnableTarget(true))
		api.POST("/targets/:id/disable", s.handleEnableTarget(false))
		api.GET("/targets/:id/clusters", s.handleListClusters)
		api.GET("/targets/:id/findings", s.handleListFindings)
		api.POST("/targets/:id/endpoints", s.handleIngestEndpoints)
		api.POST("/targets/:id/observations", s.handleIngestObservations)

		api.GET("/candidates", s.handleListCandidates)
		api.GET("/candidates/:id", s.handleGetCandidate)
		api.POST("/candidates/:id/approve", s.handleApproveCandidate)
		api.POST("/candidates/:id/reject", s.handleRejectCandidate)
		api.POST("/candidates/:id/notes", s.handleAddCandidateNote)

		api.POST("/tests", s.handleSubmitTest)
		api.POST("/tests/batch", s.handleBatchSubmit)
		api.GET("/jobs/:id", s.handleGetJob)
		api.GET("/jobs/:id/results", s.handleJobResults)
		api.POST("/jobs/:id/stop", s.handleStopJob)

		api.GET("/findings/:id", s.handleGetFinding)
		api.POST("/findings/:id/review", s.handleReviewFinding)

		api.GET("/killswitch", s.handleKillSwitchState)
		api.POST("/killswitch", s.handleActivateKillSwitch)
		api.DELETE("/killswitch", s.handleDeactivateKillSwitch)

		api.GET("/events", s.hub.Handler())
	}
}

func (s *Server) Run() error {
	s.log.Infow("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// writeError maps domain errors to HTTP status codes. Policy blocks
// are 403: the request was understood and refused.
func writeError(c *gin.Context, err error) {
	var blocked *core.PolicyBlockedError
	if errors.As(err, &blocked) {
		c.JSON(http.StatusForbidden, gin.H{"error": blocked.Error()})
		return
	}
	var oos *core.OutOfScopeError
	if errors.As(err, &oos) {
		c.JSON(http.StatusForbidden, gin.H{"error": oos.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
