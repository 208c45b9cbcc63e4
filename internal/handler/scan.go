package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phishguard/internal/models"
	"phishguard/internal/service"
)

type ScanHandler interface {
	Scan(c *gin.Context)
	SubmitFeedback(c *gin.Context)
	GetHistory(c *gin.Context)
	GetUserStatistics(c *gin.Context)
}

type scanHandler struct {
	service service.ScanService
	logger  *zap.Logger
}

func NewScanHandler(svc service.ScanService, logger *zap.Logger) ScanHandler {
	return &scanHandler{
		service: svc,
		logger:  logger,
	}
}

type ScanRequest struct {
	Message  string `json:"message"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

type ScanResponse struct {
	ScanID           int64             `json:"scan_id"`
	IsPhishing       bool              `json:"is_phishing"`
	RiskScore        float64           `json:"risk_score"`
	Confidence       models.Confidence `json:"confidence"`
	Message          string            `json:"message"`
	PredictionTimeMs int64             `json:"prediction_time_ms"`
	ModelVersion     string            `json:"model_version"`
	Timestamp        time.Time         `json:"timestamp"`
}

type FeedbackRequest struct {
	ScanID   int64  `json:"scan_id"`
	Feedback string `json:"feedback"`
}

// Scan handles POST /api/scan
func (h *scanHandler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	scan, err := h.service.Scan(c.Request.Context(), service.ScanRequest{
		Message:   req.Message,
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, service.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
			return
		}
		if errors.Is(err, service.ErrIDTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan message"})
		return
	}

	message := "Message appears safe"
	if scan.IsPhishing {
		message = "Phishing detected - High risk!"
	}
	var latency int64
	if scan.PredictionTimeMs != nil {
		latency = *scan.PredictionTimeMs
	}

	c.JSON(http.StatusOK, ScanResponse{
		ScanID:           scan.ID,
		IsPhishing:       scan.IsPhishing,
		RiskScore:        models.RoundRisk(scan.RiskScore),
		Confidence:       scan.ConfidenceLevel,
		Message:          message,
		PredictionTimeMs: latency,
		ModelVersion:     scan.ModelVersion,
		Timestamp:        scan.CreatedAt,
	})
}

// SubmitFeedback handles POST /api/feedback
func (h *scanHandler) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.ScanID <= 0 || req.Feedback == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: scan_id, feedback"})
		return
	}

	scan, err := h.service.SubmitFeedback(c.Request.Context(), req.ScanID, req.Feedback)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidFeedback):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feedback value. Must be CORRECT, INCORRECT, or UNSURE"})
		case errors.Is(err, service.ErrScanNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit feedback"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Feedback recorded successfully",
		"scan_id":  scan.ID,
		"feedback": scan.UserFeedback,
	})
}

// GetHistory handles GET /api/history
func (h *scanHandler) GetHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", service.DefaultHistoryLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}
	phishingOnly := strings.EqualFold(c.Query("phishing_only"), "true")

	page, err := h.service.History(c.Request.Context(), c.Query("user_id"), limit, offset, phishingOnly)
	if err != nil {
		if errors.Is(err, service.ErrMissingUser) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameter: user_id"})
			return
		}
		h.logger.Error("Failed to get history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve history"})
		return
	}

	c.JSON(http.StatusOK, page)
}

// GetUserStatistics handles GET /api/statistics/:user_id
func (h *scanHandler) GetUserStatistics(c *gin.Context) {
	stats, err := h.service.UserStatistics(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		if errors.Is(err, service.ErrMissingUser) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id"})
			return
		}
		h.logger.Error("Failed to get user statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve statistics"})
		return
	}
	if stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No statistics found for this user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

func respondBindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
