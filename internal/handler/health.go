package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ModelInfo describes the loaded classifier.
type ModelInfo interface {
	ModelLoaded() bool
	ModelVersion() string
}

type HealthHandler interface {
	HealthCheck(c *gin.Context)
}

type healthHandler struct {
	db     Pinger
	model  ModelInfo
	logger *zap.Logger
}

func NewHealthHandler(db Pinger, model ModelInfo, logger *zap.Logger) HealthHandler {
	return &healthHandler{
		db:     db,
		model:  model,
		logger: logger,
	}
}

// HealthCheck handles GET /health
func (h *healthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "connected"
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("Database health check failed", zap.Error(err))
		dbStatus = "error: " + err.Error()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"model_loaded":  h.model.ModelLoaded(),
		"model_version": h.model.ModelVersion(),
		"database":      dbStatus,
		"timestamp":     time.Now().UTC(),
	})
}
