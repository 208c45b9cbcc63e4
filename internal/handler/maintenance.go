package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phishguard/internal/lifecycle"
)

// Sweeper runs data lifecycle sweeps on demand.
type Sweeper interface {
	RetentionSweep(ctx context.Context) (lifecycle.SweepResult, error)
	AnonymizationSweep(ctx context.Context) (lifecycle.SweepResult, error)
}

type MaintenanceHandler interface {
	RunRetention(c *gin.Context)
	RunAnonymization(c *gin.Context)
}

type maintenanceHandler struct {
	sweeper Sweeper
	logger  *zap.Logger
}

func NewMaintenanceHandler(sweeper Sweeper, logger *zap.Logger) MaintenanceHandler {
	return &maintenanceHandler{
		sweeper: sweeper,
		logger:  logger,
	}
}

// RunRetention handles POST /api/maintenance/retention
func (h *maintenanceHandler) RunRetention(c *gin.Context) {
	h.run(c, h.sweeper.RetentionSweep)
}

// RunAnonymization handles POST /api/maintenance/anonymize
func (h *maintenanceHandler) RunAnonymization(c *gin.Context) {
	h.run(c, h.sweeper.AnonymizationSweep)
}

func (h *maintenanceHandler) run(c *gin.Context, sweep func(context.Context) (lifecycle.SweepResult, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	result, err := sweep(ctx)
	if err != nil {
		h.logger.Error("On-demand sweep failed", zap.String("run_id", result.RunID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed", "run_id": result.RunID})
		return
	}
	c.JSON(http.StatusOK, result)
}
