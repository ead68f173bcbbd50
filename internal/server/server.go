// Package server exposes the coordination kernel over HTTP, JSON, and
// websocket.
//
// Every response wraps its payload in {ok, data} / {ok, error}. The one
// deliberate exception to "error means ok:false" is the claim conflict: a 409
// with ok:true and the conflict detail, because the kernel treated it as a
// successful no-op.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tylerbuilds/scrum-mcp/internal/coordinator"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/observability"
	"github.com/tylerbuilds/scrum-mcp/internal/webhook"
)

// Config carries the transport settings.
type Config struct {
	Addr         string
	Auth         AuthConfig
	RateLimitRPM int
	Debug        bool
}

// Server is the HTTP transport over the coordinator.
type Server struct {
	coord    *coordinator.Coordinator
	webhooks *webhook.Manager
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	engine   *gin.Engine
	http     *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithWebhooks attaches the webhook manager so its endpoints get routed.
func WithWebhooks(m *webhook.Manager) Option {
	return func(s *Server) { s.webhooks = m }
}

// WithMetrics attaches the metrics collector and exposes /metrics.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(s *Server) { s.metrics = metrics }
}

// WithLogger attaches a logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger) }
}

// New builds the router and the underlying http.Server.
func New(cfg Config, coord *coordinator.Coordinator, opts ...Option) *Server {
	s := &Server{coord: coord, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogMiddleware(s.logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	engine.GET("/health", s.handleHealth)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	engine.GET("/ws", s.handleWebsocket)

	api := engine.Group("/api")
	api.Use(rateLimitMiddleware(cfg.RateLimitRPM))
	api.Use(authMiddleware(cfg.Auth))
	s.routes(api)

	s.engine = engine
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes(api *gin.RouterGroup) {
	api.GET("/status", s.handleStatus)
	api.GET("/feed", s.handleFeed)

	api.GET("/agents", s.handleListAgents)
	api.POST("/agents", s.handleRegisterAgent)
	api.POST("/agents/:id/heartbeat", s.handleHeartbeat)

	api.POST("/tasks", s.handleCreateTask)
	api.GET("/tasks", s.handleListTasks)
	api.GET("/tasks/:id", s.handleGetTask)
	api.PATCH("/tasks/:id", s.handleUpdateTask)
	api.GET("/tasks/:id/ready", s.handleTaskReady)
	api.GET("/tasks/:id/gates", s.handleGateStatus)
	api.POST("/tasks/:id/dependencies", s.handleAddDependency)
	api.DELETE("/tasks/:id/dependencies/:depId", s.handleRemoveDependency)
	api.GET("/board", s.handleBoard)

	api.POST("/intents", s.handlePostIntent)
	api.GET("/intents", s.handleListIntents)

	api.POST("/claims", s.handleCreateClaim)
	api.GET("/claims", s.handleListClaims)
	api.DELETE("/claims", s.handleReleaseClaims)
	api.POST("/claims/extend", s.handleExtendClaims)

	api.POST("/evidence", s.handleAttachEvidence)
	api.GET("/evidence", s.handleListEvidence)

	api.POST("/changelog", s.handleLogChange)
	api.GET("/changelog", s.handleListChangelog)

	api.POST("/comments", s.handleAddComment)
	api.GET("/comments", s.handleListComments)

	api.POST("/blockers", s.handleAddBlocker)
	api.POST("/blockers/:id/resolve", s.handleResolveBlocker)
	api.GET("/blockers", s.handleListBlockers)

	api.POST("/gates", s.handleDefineGate)
	api.POST("/gates/runs", s.handleRecordGateRun)

	api.GET("/wip-limits", s.handleListWipLimits)
	api.PUT("/wip-limits", s.handleSetWipLimit)
	api.DELETE("/wip-limits/:status", s.handleClearWipLimit)

	api.GET("/compliance/:taskId/:agentId", s.handleCompliance)

	if s.webhooks != nil {
		api.POST("/webhooks", s.handleRegisterWebhook)
		api.GET("/webhooks", s.handleListWebhooks)
		api.DELETE("/webhooks/:id", s.handleUnregisterWebhook)
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
