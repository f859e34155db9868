// internal/web/server.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"pointaged/internal/config"
	"pointaged/internal/database"
	"pointaged/internal/hub"
	"pointaged/internal/metrics"
)

type Server struct {
	config  *config.Config
	store   database.Store
	hub     *hub.Hub
	metrics *metrics.Collector
	router  *gin.Engine
	server  *http.Server
}

func NewServer(cfg *config.Config, store database.Store, h *hub.Hub, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:  cfg,
		store:   store,
		hub:     h,
		metrics: metricsCollector,
		router:  router,
	}

	server.setupRoutes()
	return server
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go s.updateMetricsRoutine(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/machines", s.getMachines)
		api.GET("/machines/:id", s.getMachine)
		api.POST("/machines", s.createMachine)
		api.PUT("/machines/:id", s.updateMachine)
		api.DELETE("/machines/:id", s.deleteMachine)
		api.POST("/machines/:id/command", s.sendCommand)

		api.GET("/pointages", s.getPointages)
		api.POST("/pointages", s.createPointage)

		api.GET("/alerts", s.getAlerts)
		api.PUT("/alerts/:id/resolve", s.resolveAlert)

		api.GET("/statistics", s.getStatistics)
		api.GET("/health", s.healthCheck)
	}

	// WebSocket endpoints
	s.router.GET("/ws/agent", func(c *gin.Context) {
		s.hub.ServeAgentWS(c.Writer, c.Request)
	})
	s.router.GET("/ws/dashboard", func(c *gin.Context) {
		s.hub.ServeDashboardWS(c.Writer, c.Request)
	})

	// Prometheus metrics
	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"connected": len(s.hub.ConnectedIdentities()),
	})
}

func (s *Server) updateMetricsRoutine(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.metrics.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Error("Failed to update system metrics")
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
