// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/enablerdao/ChirAI/internal/agent"
	"github.com/enablerdao/ChirAI/internal/cache"
	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/tasks"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddress is where the server listens unless told otherwise.
	DefaultAddress = "127.0.0.1:8787"

	// MaxRequestBodySize caps request bodies (1MB).
	MaxRequestBodySize = 1 << 20

	// MaxTextLength is the longest message or task accepted.
	MaxTextLength = 100000

	healthTimeout = 2 * time.Second
)

// Version is the API version reported by /health.
var Version = "1.0.0"

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats counts requests handled by the API.
type ServerStats struct {
	TotalRequests  atomic.Int64
	MessagesPosted atomic.Int64
	TasksStarted   atomic.Int64
	StartTime      time.Time
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	TotalRequests  int64        `json:"total_requests"`
	MessagesPosted int64        `json:"messages_posted"`
	TasksStarted   int64        `json:"tasks_started"`
	Channels       int          `json:"channels"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	Cache          *cache.Stats `json:"cache,omitempty"`
	CacheHitRate   float64      `json:"cache_hit_rate_percent"`
	Tasks          string       `json:"tasks,omitempty"`
}

// ============================================================================
// SERVER
// ============================================================================

// Config wires a Server to the rest of the application.
type Config struct {
	// Address to listen on; DefaultAddress if empty.
	Address string

	Manager *session.Manager
	Backend ollama.Backend

	// Orchestrator enables /tasks. Queued jobs run on a tasks.Runner owned
	// by the server.
	Orchestrator *agent.Orchestrator

	// Cache, if set, is reported by /stats and cleared by /cache/clear.
	Cache cache.Cache

	// Auth enables bearer token and IP checks.
	Auth *AuthConfig

	// CORS enables cross-origin headers.
	CORS *CORSConfig

	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	Burst     int

	Logger *zap.Logger
}

// Server is the HTTP API over channels, models and agent tasks.
type Server struct {
	cfg    Config
	engine *gin.Engine
	http   *http.Server
	runner *tasks.Runner
	stats  *ServerStats
	logger *zap.Logger
}

// New builds the router and starts the task runner, if any. Call Close to
// release it.
func New(cfg Config) *Server {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		stats:  &ServerStats{StartTime: time.Now()},
		logger: cfg.Logger.Named("server"),
	}
	if cfg.Orchestrator != nil {
		s.runner = tasks.NewRunnerWithOptions(cfg.Orchestrator.Queue(), tasks.RunnerOptions{
			MaxConcurrent: 2,
			TaskTimeout:   30 * time.Minute,
			Logger:        s.logger,
		})
		s.runner.Start()
	}
	s.engine = s.newEngine()
	return s
}

func (s *Server) newEngine() *gin.Engine {
	engine := gin.New()
	_ = engine.SetTrustedProxies(trustedProxies)
	engine.HandleMethodNotAllowed = true
	engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", "no such route")
	})
	engine.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	engine.Use(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		BodyLimitMiddleware(MaxRequestBodySize),
		func(c *gin.Context) {
			s.stats.TotalRequests.Add(1)
			c.Next()
		},
	)
	if s.cfg.CORS != nil {
		engine.Use(CORSMiddleware(s.cfg.CORS))
	}
	if s.cfg.RateLimit > 0 {
		engine.Use(RateLimitMiddleware(NewRateLimiter(s.cfg.RateLimit, s.cfg.Burst), s.logger))
	}
	if s.cfg.Auth != nil {
		engine.Use(AuthMiddleware(s.cfg.Auth, s.logger))
	}

	s.setupRoutes(engine)
	return engine
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.GET("/v1/models", s.handleModels)
	r.POST("/cache/clear", s.handleCacheClear)

	channels := r.Group("/channels")
	channels.GET("", s.handleListChannels)
	channels.DELETE("/:id", s.handleRemoveChannel)
	channels.GET("/:id/messages", s.handleGetMessages)
	channels.POST("/:id/messages", s.handlePostMessage)
	channels.DELETE("/:id/messages", s.handleClearMessages)
	channels.PATCH("/:id/messages/:msg", s.handleEditMessage)
	channels.POST("/:id/messages/:msg/reactions", s.handleReact)
	channels.PUT("/:id/model", s.handleSetModel)
	channels.GET("/:id/search", s.handleSearch)
	channels.GET("/:id/stats", s.handleChannelStats)

	jobs := r.Group("/tasks")
	jobs.POST("", s.handleCreateTask)
	jobs.GET("", s.handleListTasks)
	jobs.GET("/:id", s.handleGetTask)
	jobs.DELETE("/:id", s.handleCancelTask)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", zap.String("addr", ln.Addr().String()), zap.String("version", Version))
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	err := s.http.Shutdown(shutdownCtx)
	<-errCh
	return err
}

// Close stops the task runner. Channels belong to the Manager and are not
// closed here.
func (s *Server) Close() error {
	if s.runner != nil {
		s.runner.Stop()
	}
	return nil
}
