package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/api/handlers"
	"github.com/leozw/health-guardian/internal/api/middleware"
	"github.com/leozw/health-guardian/internal/config"
	"github.com/leozw/health-guardian/internal/health"
	"github.com/leozw/health-guardian/internal/incidents"
	"github.com/leozw/health-guardian/internal/performance"
	"github.com/leozw/health-guardian/internal/realtime"
	"github.com/leozw/health-guardian/internal/remediation"
)

// Automation holds the optional background features exposed by the API.
type Automation struct {
	Remediation *remediation.Engine
	Performance *performance.Monitor
}

type Server struct {
	Config     *config.Config
	Router     *gin.Engine
	Health     *health.Service
	Incidents  *incidents.Tracker
	Store      handlers.Pinger
	Hub        *realtime.Hub
	Metrics    http.Handler
	Automation Automation
	Logger     *zap.Logger
}

// NewServer builds the HTTP router. tracker, store, hub, metrics and the
// automation features are optional.
func NewServer(cfg *config.Config, svc *health.Service, tracker *incidents.Tracker, store handlers.Pinger, hub *realtime.Hub, metrics http.Handler, auto Automation, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	server := &Server{
		Config:     cfg,
		Router:     router,
		Health:     svc,
		Incidents:  tracker,
		Store:      store,
		Hub:        hub,
		Metrics:    metrics,
		Automation: auto,
		Logger:     logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	h := handlers.NewHandler(s.Health, s.Incidents, s.Store, s.Hub, s.Logger)
	h.SetRemediation(s.Automation.Remediation)
	h.SetPerformance(s.Automation.Performance)

	// Probes
	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics))
	}

	api := s.Router.Group("/api/v1/health-check")
	if s.Config.Auth.JWTSecret != "" {
		api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret))
	} else {
		s.Logger.Warn("JWT secret not configured, health check API is unauthenticated")
	}

	limited := middleware.NewRateLimiter(s.Config.Auth.RateLimit, s.Config.Auth.RateBurst).Middleware()
	{
		api.GET("/modules", h.ListModules)
		api.GET("/status", h.GetStatus)
		api.POST("/run", limited, h.RunChecks)
		api.POST("/start", h.StartScheduler)
		api.POST("/stop", h.StopScheduler)
		api.GET("/history", h.GetHistory)
		api.GET("/history/:module", h.GetModuleHistory)
		api.POST("/export", limited, h.Export)
		api.POST("/report", h.GenerateReport)
		api.GET("/report/latest", h.LatestReport)
		api.GET("/incidents", h.ListIncidents)
		api.GET("/remediation", h.GetRemediation)
		api.PUT("/remediation/rules/:id", h.UpdateRemediationRule)
		api.GET("/performance", h.GetPerformance)
		api.GET("/ws", h.Subscribe)
	}
}
