package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/checkin"
	"github.com/terminal-bench/safetywatch/internal/engine"
	"github.com/terminal-bench/safetywatch/internal/escalation"
	"github.com/terminal-bench/safetywatch/internal/events"
	"github.com/terminal-bench/safetywatch/internal/risk"
	"github.com/terminal-bench/safetywatch/pkg/logging"
)

const (
	msgCheckedIn     = "체크인이 완료되었습니다."
	msgHelpRequested = "응급 상황이 신고되었습니다. 도움이 곧 도착할 예정입니다."
)

// Monitor is the engine surface the HTTP layer drives.
type Monitor interface {
	UserID() string
	Running() bool
	CurrentStatus() (engine.Status, bool)
	History() []risk.Result
	Escalation() escalation.State
	CheckIns() []checkin.Record
	NextCheckAt() time.Time
	RunCycle(ctx context.Context) (risk.Result, error)
	CheckIn(ctx context.Context, mood checkin.Mood, note string) (checkin.Record, error)
	RequestHelp(ctx context.Context, kind, description string) (events.HelpRequested, error)
}

// Config holds server configuration
type Config struct {
	Port            string
	JWTSecret       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Server exposes one user's monitor over HTTP and websocket.
type Server struct {
	router  *gin.Engine
	monitor Monitor
	hub     *Hub
	inputs  Inputs
	auth    *Authenticator
	limiter *RateLimiter
	logger  *zap.Logger
	httpSrv *http.Server

	checksMu sync.RWMutex
	checks   map[string]func() bool
}

// CheckInRequest is the body of POST /checkin.
type CheckInRequest struct {
	Mood string `json:"mood"`
	Note string `json:"note"`
}

// HelpRequest is the body of POST /emergency.
type HelpRequest struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

func NewServer(cfg Config, monitor Monitor, hub *Hub, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	if hub == nil {
		hub = NewHub(logger)
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	s := &Server{
		router:  gin.New(),
		monitor: monitor,
		hub:     hub,
		limiter: NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		logger:  logger,
		checks:  make(map[string]func() bool),
	}
	if cfg.JWTSecret != "" {
		s.auth = NewAuthenticator(cfg.JWTSecret)
	}

	s.setupRoutes()
	s.httpSrv = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.tracingMiddleware())
	s.router.Use(s.loggingMiddleware())

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	if s.auth != nil {
		v1.Use(s.auth.middleware(s.monitor.UserID()))
	}
	{
		v1.GET("/safety/status", s.getStatus)
		v1.GET("/safety/history", s.getHistory)
		v1.GET("/safety/checkins", s.getCheckIns)
		v1.POST("/safety/check", s.rateLimitMiddleware(), s.runCheck)
		v1.POST("/safety/checkin", s.rateLimitMiddleware(), s.checkIn)
		v1.POST("/safety/emergency", s.rateLimitMiddleware(), s.requestHelp)
		v1.POST("/safety/usage", s.reportUsage)
		v1.POST("/safety/location", s.reportLocation)
		v1.DELETE("/safety/location", s.clearLocation)

		v1.GET("/ws", s.handleWebSocket)
	}
}

// AddHealthCheck registers a dependency check reported by /health.
func (s *Server) AddHealthCheck(name string, healthy func() bool) {
	s.checksMu.Lock()
	s.checks[name] = healthy
	s.checksMu.Unlock()
}

// SetInputs connects the usage and location ingestion routes to the signal
// sources. Until it is called those routes answer 503.
func (s *Server) SetInputs(in Inputs) {
	s.inputs = in
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	return errors.Join(err, s.hub.Close(ctx))
}

// Middleware

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("correlation_id", c.GetString("correlation_id")),
		)
	}
}

// Handlers

func (s *Server) healthCheck(c *gin.Context) {
	code, status := http.StatusOK, "healthy"
	deps := make(map[string]bool)

	s.checksMu.RLock()
	for name, healthy := range s.checks {
		ok := healthy()
		deps[name] = ok
		if !ok {
			code, status = http.StatusServiceUnavailable, "degraded"
		}
	}
	s.checksMu.RUnlock()

	c.JSON(code, gin.H{
		"status":       status,
		"monitoring":   s.monitor.Running(),
		"ws_clients":   s.hub.Clients(),
		"dependencies": deps,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"user_id":    s.monitor.UserID(),
		"monitoring": s.monitor.Running(),
		"escalation": s.monitor.Escalation(),
		"status":     nil,
	}
	if st, ok := s.monitor.CurrentStatus(); ok {
		resp["status"] = st
	}
	if next := s.monitor.NextCheckAt(); !next.IsZero() {
		resp["next_check_at"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getHistory(c *gin.Context) {
	history := s.monitor.History()
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

func (s *Server) getCheckIns(c *gin.Context) {
	records := s.monitor.CheckIns()
	c.JSON(http.StatusOK, gin.H{"checkins": records, "count": len(records)})
}

func (s *Server) runCheck(c *gin.Context) {
	// A disconnecting client must not abort a cycle halfway.
	ctx := context.WithoutCancel(c.Request.Context())

	res, err := s.monitor.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrCycleInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "a check is already running"})
			return
		}
		s.logger.Warn("manual check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check failed"})
		return
	}

	resp := gin.H{"result": res}
	if st, ok := s.monitor.CurrentStatus(); ok {
		resp["tier"] = st.Tier
		resp["label"] = st.Label
		resp["trend"] = st.Trend
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) checkIn(c *gin.Context) {
	var req CheckInRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	mood, err := checkin.ParseMood(req.Mood)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := s.monitor.CheckIn(c.Request.Context(), mood, req.Note)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record check-in"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msgCheckedIn, "checkin": rec})
}

func (s *Server) requestHelp(c *gin.Context) {
	var req HelpRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	help, err := s.monitor.RequestHelp(c.Request.Context(), req.Type, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request help"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msgHelpRequested, "request": help})
}

func (s *Server) reportUsage(c *gin.Context) {
	var req UsageReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := s.inputs.recordUsage(req); err != nil {
		s.inputError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) reportLocation(c *gin.Context) {
	var req LocationReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := s.inputs.updateLocation(req); err != nil {
		s.inputError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearLocation(c *gin.Context) {
	if err := s.inputs.clearLocation(); err != nil {
		s.inputError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) inputError(c *gin.Context, err error) {
	if errors.Is(err, ErrInputsUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.hub.serve(c.Writer, c.Request)
}
