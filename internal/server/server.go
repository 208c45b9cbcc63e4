package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"phishguard/internal/analytics"
	"phishguard/internal/classifier"
	"phishguard/internal/config"
	"phishguard/internal/handler"
	"phishguard/internal/lifecycle"
	"phishguard/internal/middleware"
	"phishguard/internal/repository"
	"phishguard/internal/service"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	db         *sqlx.DB
	cfg        *config.Config
	classifier *classifier.Classifier
	scans      service.ScanService
	engine     *analytics.Engine
	lifecycle  *lifecycle.Manager
	scanLimit  *middleware.RateLimiter
	queryLimit *middleware.RateLimiter
	logger     *zap.Logger
}

func NewServer(db *sqlx.DB, cfg *config.Config, c *classifier.Classifier, scans service.ScanService,
	engine *analytics.Engine, lm *lifecycle.Manager, logger *zap.Logger) *Server {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("Invalid trusted proxies, trusting none", zap.Strings("trusted_proxies", cfg.Server.TrustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) == 0 || cfg.Server.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.RequestIDHeader)
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:     router,
		db:         db,
		cfg:        cfg,
		classifier: c,
		scans:      scans,
		engine:     engine,
		lifecycle:  lm,
		scanLimit:  middleware.NewRateLimiter(cfg.Server.ScanRatePerMinute, logger),
		queryLimit: middleware.NewRateLimiter(cfg.Server.QueryRatePerMinute, logger),
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	scanHandler := handler.NewScanHandler(s.scans, s.logger)
	analyticsHandler := handler.NewAnalyticsHandler(s.engine, s.logger)
	exportHandler := handler.NewExportHandler(repository.NewScanRepository(s.db, s.logger), s.logger)
	maintenanceHandler := handler.NewMaintenanceHandler(s.lifecycle, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.classifier, s.logger)

	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.Use(middleware.MaxBodySize(s.cfg.Server.MaxBodyBytes))
	{
		api.POST("/scan", s.scanLimit.Middleware(), scanHandler.Scan)
		api.POST("/feedback", s.scanLimit.Middleware(), scanHandler.SubmitFeedback)
		api.GET("/history", s.queryLimit.Middleware(), scanHandler.GetHistory)
		api.GET("/statistics/:user_id", s.queryLimit.Middleware(), scanHandler.GetUserStatistics)
		api.GET("/export/csv", exportHandler.ExportCSV)
	}

	analyticsGroup := api.Group("/analytics")
	analyticsGroup.Use(s.queryLimit.Middleware())
	{
		analyticsGroup.GET("/dashboard", analyticsHandler.GetDashboard)
		analyticsGroup.GET("/recent", analyticsHandler.GetRecent)
		analyticsGroup.GET("/high-risk", analyticsHandler.GetHighRisk)
		analyticsGroup.GET("/duplicates", analyticsHandler.GetDuplicates)
		analyticsGroup.GET("/hourly", analyticsHandler.GetHourly)
		analyticsGroup.GET("/trends", analyticsHandler.GetTrends)
		analyticsGroup.GET("/risk-distribution", analyticsHandler.GetRiskDistribution)
		analyticsGroup.GET("/accuracy", analyticsHandler.GetAccuracy)
		analyticsGroup.GET("/latency", analyticsHandler.GetLatency)
		analyticsGroup.GET("/model-metrics", analyticsHandler.GetModelMetrics)
		analyticsGroup.GET("/top-users", analyticsHandler.GetTopUsers)
		analyticsGroup.GET("/feedback", analyticsHandler.GetFeedback)
		analyticsGroup.GET("/date-range", analyticsHandler.GetDateRange)
	}

	maintenance := api.Group("/maintenance")
	{
		maintenance.POST("/retention", maintenanceHandler.RunRetention)
		maintenance.POST("/anonymize", maintenanceHandler.RunAnonymization)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.scanLimit.Cleanup(ctx, time.Minute, 10*time.Minute)
	go s.queryLimit.Cleanup(ctx, time.Minute, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
