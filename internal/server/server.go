package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rezonia/invoice-compliance/internal/compliance"
	"github.com/rezonia/invoice-compliance/internal/metrics"
	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/queue"
)

const defaultHistoryLimit = 50

// Config holds server configuration
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

// Dependencies are the components the API exposes. Queue and Metrics are
// optional; their endpoints answer 503 or are not mounted when nil.
type Dependencies struct {
	Service *compliance.Service
	Queue   queue.Queue
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Server represents the HTTP API server
type Server struct {
	config  *Config
	router  *gin.Engine
	service *compliance.Service
	queue   queue.Queue
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config *Config, deps Dependencies) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))

	s := &Server{
		config:  config,
		router:  router,
		service: deps.Service,
		queue:   deps.Queue,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		invoice := v1.Group("/tenants/:tenant/invoices/:invoice/compliance")
		invoice.POST("", s.handleEnqueue)
		invoice.GET("", s.handleStatus)
		invoice.POST("/cancel", s.handleCancel)

		v1.GET("/tenants/:tenant/chain/verify", s.handleVerifyChain)

		ops := v1.Group("/ops")
		ops.GET("/circuit", s.handleCircuit)
		ops.GET("/queue", s.handleQueue)
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.config.Address).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleEnqueue(c *gin.Context) {
	job, err := s.service.Enqueue(c.Request.Context(), c.Param("tenant"), c.Param("invoice"))
	if err != nil {
		s.enqueueFailed(c, err)
		return
	}
	c.JSON(http.StatusAccepted, JobResponse{Job: job})
}

func (s *Server) handleCancel(c *gin.Context) {
	var req CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
			return
		}
	}

	job, err := s.service.EnqueueCancel(c.Request.Context(), c.Param("tenant"), c.Param("invoice"), req.Reason)
	if err != nil {
		s.enqueueFailed(c, err)
		return
	}
	c.JSON(http.StatusAccepted, JobResponse{Job: job})
}

func (s *Server) enqueueFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, compliance.ErrNoQueue), errors.Is(err, queue.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "queue unavailable", Details: err.Error()})
	default:
		s.logger.Error().Err(err).Msg("enqueue failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "enqueue failed", Details: err.Error()})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	inv, err := s.service.Invoice(c.Request.Context(), c.Param("tenant"), c.Param("invoice"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "invoice not found"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("load invoice failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load invoice"})
		return
	}

	withDocument, _ := strconv.ParseBool(c.Query("document"))
	c.JSON(http.StatusOK, newComplianceResponse(inv, withDocument))
}

func (s *Server) handleVerifyChain(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	report, err := s.service.VerifyChain(ctx, c.Param("tenant"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "tenant not found"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("chain verification failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "chain verification failed"})
		return
	}

	if report.Valid {
		c.JSON(http.StatusOK, report)
	} else {
		c.JSON(http.StatusUnprocessableEntity, report)
	}
}

func (s *Server) handleCircuit(c *gin.Context) {
	c.JSON(http.StatusOK, CircuitResponse{Breakers: s.service.Circuits()})
}

func (s *Server) handleQueue(c *gin.Context) {
	if s.queue == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "queue unavailable"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	history, err := s.queue.History(ctx, limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("queue history unavailable")
		history = []queue.HistoryEntry{}
	}
	c.JSON(http.StatusOK, QueueResponse{Size: s.queue.Size(ctx), History: history})
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		e := logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			e = logger.Warn()
		}
		e.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
