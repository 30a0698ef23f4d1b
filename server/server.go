package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "fraudflow/config"
	"fraudflow/logger"
	"fraudflow/pipeline"
)

// Server hosts the Gin-powered trigger API for batch pipeline runs.
type Server struct {
	cfg        appconfig.ServerConfig
	pipe       *pipeline.Pipeline
	log        *logger.Log
	httpServer *http.Server
}

// NewServer constructs the trigger API server when it is enabled. When
// disabled the returned server is nil and Run is a no-op.
func NewServer(cfg appconfig.ServerConfig, pipe *pipeline.Pipeline) *Server {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	return &Server{
		cfg:  cfg,
		pipe: pipe,
		log:  logger.GetLogger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	log := s.log.WithComponent("api_server")
	log.WithFields(logger.Fields{"address": s.cfg.Address}).Info("api server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		log.Info("api server stopped")
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

type runRequest struct {
	Dt string `json:"dt" binding:"required"`
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/api/v1/runs", s.handleTriggerRun)
	router.GET("/api/v1/runs/last", s.handleLastRun)

	return router, nil
}

// handleTriggerRun executes a pipeline run synchronously for the requested
// date. The pipeline's own deadline bounds the request, so a stalled run
// surfaces as a gateway timeout rather than hanging the client forever.
func (s *Server) handleTriggerRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be {\"dt\": \"YYYY-MM-DD\"}"})
		return
	}

	result, err := s.pipe.Run(c.Request.Context(), req.Dt)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, pipeline.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error(), "run": result})
		case result == nil:
			// Run was never started: the date failed validation.
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "run": result})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": result})
}

func (s *Server) handleLastRun(c *gin.Context) {
	last := s.pipe.LastRun()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pipeline run recorded yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": last})
}
