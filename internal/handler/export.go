package handler

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phishguard/internal/models"
	"phishguard/internal/repository"
)

var csvHeader = []string{
	"id", "user_id", "device_id", "message_text", "is_phishing", "risk_score",
	"confidence_level", "model_version", "prediction_time_ms", "created_at", "user_feedback",
}

type ExportHandler interface {
	ExportCSV(c *gin.Context)
}

type exportHandler struct {
	scans  repository.ScanRepository
	logger *zap.Logger
}

func NewExportHandler(scans repository.ScanRepository, logger *zap.Logger) ExportHandler {
	return &exportHandler{
		scans:  scans,
		logger: logger,
	}
}

// ExportCSV handles GET /api/export/csv?start=&end=
func (h *exportHandler) ExportCSV(c *gin.Context) {
	start, err := parseTimeParam(c.Query("start"), false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339 or YYYY-MM-DD"})
		return
	}
	end, err := parseTimeParam(c.Query("end"), true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339 or YYYY-MM-DD"})
		return
	}

	scans, err := h.scans.ListForExport(c.Request.Context(), start, end)
	if err != nil {
		h.logger.Error("Failed to export CSV", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=scan_history.csv")

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		h.logger.Error("Failed to write CSV header", zap.Error(err))
		return
	}
	for _, scan := range scans {
		if err := writer.Write(csvRow(scan)); err != nil {
			h.logger.Error("Failed to write CSV row", zap.Int64("scan_id", scan.ID), zap.Error(err))
			return
		}
	}
	h.logger.Info("Exported scans to CSV", zap.Int("count", len(scans)))
}

func csvRow(s *models.ScanRecord) []string {
	latency := ""
	if s.PredictionTimeMs != nil {
		latency = strconv.FormatInt(*s.PredictionTimeMs, 10)
	}
	feedback := ""
	if s.UserFeedback != nil {
		feedback = string(*s.UserFeedback)
	}
	return []string{
		strconv.FormatInt(s.ID, 10),
		deref(s.UserID),
		deref(s.DeviceID),
		s.MessageText,
		strconv.FormatBool(s.IsPhishing),
		strconv.FormatFloat(s.RiskScore, 'f', -1, 64),
		string(s.ConfidenceLevel),
		s.ModelVersion,
		latency,
		s.CreatedAt.UTC().Format(time.RFC3339Nano),
		feedback,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
