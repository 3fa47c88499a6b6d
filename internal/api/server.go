package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"curator/internal/logging"
	"curator/internal/stage"
)

const defaultHealthTTL = 10 * time.Second

// HealthSource reports stage readiness.
type HealthSource interface {
	Health(ctx context.Context) []stage.Health
}

// Options configures a Server.
type Options struct {
	Bind      string
	Health    HealthSource
	Status    func() RunStatus
	Metrics   http.Handler
	HealthTTL time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server is the run status server.
type Server struct {
	bind    string
	health  HealthSource
	status  func() RunStatus
	metrics http.Handler
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	router  *gin.Engine

	healthMu    sync.Mutex
	cached      HealthResponse
	cachedUntil time.Time

	listener net.Listener
	server   *http.Server
}

// New builds the router. The server does not listen until Start.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		bind:    strings.TrimSpace(opts.Bind),
		health:  opts.Health,
		status:  opts.Status,
		metrics: opts.Metrics,
		ttl:     opts.HealthTTL,
		logger:  logging.NewComponentLogger(opts.Logger, "api"),
		now:     opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultHealthTTL
	}
	if s.now == nil {
		s.now = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	s.router = router
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx ends or Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.bind == "" {
		return errors.New("api bind address required")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listen"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := s.checkHealth(c.Request.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) checkHealth(ctx context.Context) HealthResponse {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	now := s.now()
	if now.Before(s.cachedUntil) {
		return s.cached
	}
	var health []stage.Health
	if s.health != nil {
		health = s.health.Health(ctx)
	}
	s.cached = FromHealth(health, now)
	s.cachedUntil = now.Add(s.ttl)
	return s.cached
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no run in progress"})
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := s.now()
		c.Next()
		s.logger.Debug("api request",
			logging.String(logging.FieldEventType, "api_request"),
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", s.now().Sub(started)),
		)
	}
}
