package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quibex/botmother/internal/api/handlers"
	"github.com/quibex/botmother/internal/api/middleware"
	"github.com/quibex/botmother/internal/config"
	"github.com/quibex/botmother/internal/tenant"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	Handler *handlers.Handler
}

func NewServer(cfg *config.Config, resolver *tenant.Resolver, h *handlers.Handler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	server := &Server{
		Config:  cfg,
		Router:  router,
		Handler: h,
	}

	server.setupRoutes(resolver)
	return server
}

func (s *Server) setupRoutes(resolver *tenant.Resolver) {
	// Health checks
	s.Router.GET("/health", s.Handler.Health)
	s.Router.GET("/ready", s.Handler.Ready)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhook ingress: every instance's setWebhook URL points here, with
	// ?bot=<id> selecting the tenant context.
	webhook := s.Router.Group("/webhook")
	webhook.Use(middleware.RateLimit(rate.Limit(30), 60))
	webhook.Use(middleware.Binding(resolver))
	{
		webhook.POST("", s.Handler.Webhook)
	}

	// Signed maintenance triggers
	internal := s.Router.Group("/internal")
	{
		internal.GET("/drop-db", s.Handler.DropDatabase)
	}
}
