package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopkite/platform/provisioner/internal/config"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	webhook *WebhookHandler
	dbAdmin *DBAdminHandler
	cfg     *config.Config
}

// Webhook deliveries: per sender IP, generous because the billing provider
// batches retries.
var webhookRateLimiter = NewRateLimiter(120, time.Minute)

// Portal API: per customer per minute.
var portalRateLimiter = NewRateLimiter(30, time.Minute)

// Public subdomain checks: per IP, the signup form polls while typing.
var checkRateLimiter = NewRateLimiter(60, time.Minute)

func NewServer(cfg *config.Config, handler *Handler, webhook *WebhookHandler, dbAdmin *DBAdminHandler) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		handler: handler,
		webhook: webhook,
		dbAdmin: dbAdmin,
		cfg:     cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Liveness probe
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "provisioner",
		})
	})

	// Billing provider webhook - authenticated by payload signature
	s.router.POST("/webhooks/billing",
		RateLimitMiddleware(webhookRateLimiter), s.webhook.HandleBillingEvent)

	// Public API - signup form support
	public := s.router.Group("/api/v1/public")
	public.Use(RateLimitMiddleware(checkRateLimiter))
	{
		public.POST("/check-subdomain", s.handler.CheckSubdomain)
	}

	// Internal API - called by sibling platform services
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.GET("/instances/:id", s.handler.GetInstance)
		internal.POST("/instances/:id/domain", s.handler.SetCustomDomain)
		internal.POST("/instances/:id/domain/retry-ssl", s.handler.RetrySSL)
		internal.DELETE("/instances/:id/domain", s.handler.RemoveCustomDomain)
	}

	// Admin API - operator surface, also driven by opsctl
	admin := s.router.Group("/api/admin")
	admin.Use(AdminAuthMiddleware(s.cfg.AdminAPIKey))
	{
		admin.GET("/instances", s.handler.ListInstances)
		admin.GET("/instances/:id", s.handler.GetInstance)
		admin.GET("/instances/:id/logs", s.handler.GetInstanceLogs)
		admin.POST("/instances/:id/start", s.handler.StartInstance)
		admin.POST("/instances/:id/stop", s.handler.StopInstance)
		admin.POST("/instances/:id/restart", s.handler.RestartInstance)
		admin.POST("/instances/:id/update", s.handler.UpdateInstance)
		admin.POST("/instances/:id/health", s.handler.CheckInstanceHealth)
		admin.GET("/instances/:id/stats", s.handler.GetInstanceStats)
		admin.DELETE("/instances/:id", s.handler.DestroyInstance)

		admin.POST("/instances/:id/domain", s.handler.SetCustomDomain)
		admin.POST("/instances/:id/domain/retry-ssl", s.handler.RetrySSL)
		admin.DELETE("/instances/:id/domain", s.handler.RemoveCustomDomain)

		admin.POST("/maintenance/health-sweep", s.handler.HealthSweep)
		admin.POST("/maintenance/cleanup", s.handler.CleanupSweep)
		admin.POST("/maintenance/sync", s.handler.SyncSweep)
		admin.GET("/overview", s.handler.Overview)

		// DB browser
		db := admin.Group("/db")
		{
			db.GET("/tables", s.dbAdmin.ListTables)
			db.GET("/tables/:table/schema", s.dbAdmin.GetTableSchema)
			db.GET("/tables/:table/rows", s.dbAdmin.QueryRows)
		}
	}

	// Portal API - customer self-service, JWT authenticated
	portal := s.router.Group("/api/portal")
	portal.Use(JWTAuthMiddleware(s.cfg.JWTSecret))
	portal.Use(RateLimitMiddleware(portalRateLimiter))
	{
		portal.GET("/instance", s.handler.GetMyInstance)
		portal.POST("/instance/domain", s.handler.SetMyCustomDomain)
		portal.POST("/instance/domain/retry-ssl", s.handler.RetryMySSL)
		portal.DELETE("/instance/domain", s.handler.RemoveMyCustomDomain)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Engine exposes the underlying router for the http.Server in main and for
// handler tests.
func (s *Server) Engine() *gin.Engine {
	return s.router
}
