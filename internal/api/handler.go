package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"autotrade-core/internal/engine"
	"autotrade-core/internal/events"
	"autotrade-core/internal/monitor"
)

const requestTimeout = 30 * time.Second

// Server wires HTTP endpoints around the engine service and the event bus.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	JWTSecret string

	limiter *ipLimiter
}

func NewServer(engineSvc engine.Service, bus *events.Bus, metrics *monitor.SystemMetrics, jwtSecret string) *Server {
	r := gin.New()
	s := &Server{
		Router:    r,
		Engine:    engineSvc,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		limiter:   newIPLimiter(20, 50),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                 // Panic recovery (first)
	r.Use(RequestIDMiddleware())          // Request ID tracking
	r.Use(RequestLogger(metrics))         // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(s.limiter)) // Rate limiting
	r.Use(CORSMiddleware())               // CORS (last before routes)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	// The websocket authenticates itself and must not run under the request timeout.
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(requestTimeout))
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/settings", s.getSettings)
			protected.PUT("/settings", s.updateSettings)
			protected.PUT("/credentials", s.saveCredentials)
			protected.POST("/credentials/verify", s.verifyCredentials)
			protected.POST("/trade", s.manualTrade)
			protected.POST("/backtest", s.runBacktest)
			protected.GET("/statistics", s.getStatistics)
			protected.GET("/trades", s.listTrades)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
