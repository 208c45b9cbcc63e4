package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phishguard/internal/analytics"
	"phishguard/internal/models"
)

const maxAnalyticsLimit = 500

type AnalyticsHandler interface {
	GetDashboard(c *gin.Context)
	GetRecent(c *gin.Context)
	GetHighRisk(c *gin.Context)
	GetDuplicates(c *gin.Context)
	GetHourly(c *gin.Context)
	GetTrends(c *gin.Context)
	GetRiskDistribution(c *gin.Context)
	GetAccuracy(c *gin.Context)
	GetLatency(c *gin.Context)
	GetModelMetrics(c *gin.Context)
	GetTopUsers(c *gin.Context)
	GetFeedback(c *gin.Context)
	GetDateRange(c *gin.Context)
}

type analyticsHandler struct {
	engine *analytics.Engine
	logger *zap.Logger
}

func NewAnalyticsHandler(engine *analytics.Engine, logger *zap.Logger) AnalyticsHandler {
	return &analyticsHandler{
		engine: engine,
		logger: logger,
	}
}

// GetDashboard handles GET /api/analytics/dashboard
func (h *analyticsHandler) GetDashboard(c *gin.Context) {
	dashboard, err := h.engine.Dashboard(c.Request.Context())
	if err != nil {
		h.fail(c, "dashboard", err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// GetRecent handles GET /api/analytics/recent?hours=24&limit=50
func (h *analyticsHandler) GetRecent(c *gin.Context) {
	hours, ok := boundedQuery(c, "hours", 24, analytics.MaxWindowDays*24)
	if !ok {
		return
	}
	limit, ok := limitQuery(c, 50)
	if !ok {
		return
	}

	scans, err := h.engine.Recent(c.Request.Context(), time.Duration(hours)*time.Hour, limit)
	if err != nil {
		h.fail(c, "recent scans", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": nonNil(scans), "hours": hours})
}

// GetHighRisk handles GET /api/analytics/high-risk?threshold=0.8&limit=50
func (h *analyticsHandler) GetHighRisk(c *gin.Context) {
	threshold := 0.8
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be between 0 and 1"})
			return
		}
		threshold = v
	}
	limit, ok := limitQuery(c, 50)
	if !ok {
		return
	}

	scans, err := h.engine.HighRisk(c.Request.Context(), threshold, limit)
	if err != nil {
		h.fail(c, "high risk scans", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": nonNil(scans), "threshold": threshold})
}

// GetDuplicates handles GET /api/analytics/duplicates?user_id=&limit=20
func (h *analyticsHandler) GetDuplicates(c *gin.Context) {
	limit, ok := limitQuery(c, 20)
	if !ok {
		return
	}

	groups, err := h.engine.Duplicates(c.Request.Context(), optionalQuery(c, "user_id"), limit)
	if err != nil {
		h.fail(c, "duplicates", err)
		return
	}
	if groups == nil {
		groups = []models.DuplicateGroup{}
	}
	c.JSON(http.StatusOK, gin.H{"duplicates": groups})
}

// GetHourly handles GET /api/analytics/hourly?days=7
func (h *analyticsHandler) GetHourly(c *gin.Context) {
	days, ok := boundedQuery(c, "days", 7, analytics.MaxWindowDays)
	if !ok {
		return
	}

	buckets, err := h.engine.HourlyVolume(c.Request.Context(), days)
	if err != nil {
		h.fail(c, "hourly volume", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hourly": buckets, "days": days})
}

// GetTrends handles GET /api/analytics/trends?days=30
func (h *analyticsHandler) GetTrends(c *gin.Context) {
	days, ok := boundedQuery(c, "days", 30, analytics.MaxWindowDays)
	if !ok {
		return
	}

	trend, err := h.engine.DailyTrend(c.Request.Context(), days)
	if err != nil {
		h.fail(c, "trends", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trend, "days": days})
}

// GetRiskDistribution handles GET /api/analytics/risk-distribution?bins=10
func (h *analyticsHandler) GetRiskDistribution(c *gin.Context) {
	bins, err := queryInt(c, "bins", 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bins"})
		return
	}

	hist, err := h.engine.RiskHistogram(c.Request.Context(), bins)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidBins) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, "risk distribution", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distribution": hist, "bins": bins})
}

// GetAccuracy handles GET /api/analytics/accuracy
func (h *analyticsHandler) GetAccuracy(c *gin.Context) {
	report, err := h.engine.Accuracy(c.Request.Context())
	if err != nil {
		h.fail(c, "accuracy", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetLatency handles GET /api/analytics/latency
func (h *analyticsHandler) GetLatency(c *gin.Context) {
	report, err := h.engine.Latency(c.Request.Context())
	if err != nil {
		h.fail(c, "latency", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetModelMetrics handles GET /api/analytics/model-metrics
func (h *analyticsHandler) GetModelMetrics(c *gin.Context) {
	metrics, err := h.engine.ModelMetrics(c.Request.Context())
	if err != nil {
		h.fail(c, "model metrics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": metrics})
}

// GetTopUsers handles GET /api/analytics/top-users?limit=10
func (h *analyticsHandler) GetTopUsers(c *gin.Context) {
	limit, ok := limitQuery(c, 10)
	if !ok {
		return
	}

	users, err := h.engine.TopUsers(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "top users", err)
		return
	}
	if users == nil {
		users = []*models.UserStatistics{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetFeedback handles GET /api/analytics/feedback?kind=INCORRECT
func (h *analyticsHandler) GetFeedback(c *gin.Context) {
	var kind *models.Feedback
	if raw := c.Query("kind"); raw != "" {
		f, ok := models.ParseFeedback(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feedback kind"})
			return
		}
		kind = &f
	}

	scans, err := h.engine.WithFeedback(c.Request.Context(), kind)
	if err != nil {
		h.fail(c, "feedback scans", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": nonNil(scans)})
}

// GetDateRange handles GET /api/analytics/date-range?start=&end=&user_id=
func (h *analyticsHandler) GetDateRange(c *gin.Context) {
	start, err := parseTimeParam(c.Query("start"), false)
	if err != nil || start == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339 or YYYY-MM-DD"})
		return
	}
	end, err := parseTimeParam(c.Query("end"), true)
	if err != nil || end == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339 or YYYY-MM-DD"})
		return
	}
	if end.Before(*start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end is before start"})
		return
	}

	scans, err := h.engine.DateRange(c.Request.Context(), *start, *end, optionalQuery(c, "user_id"))
	if err != nil {
		h.fail(c, "date range", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": nonNil(scans), "start": start, "end": end})
}

func (h *analyticsHandler) fail(c *gin.Context, what string, err error) {
	h.logger.Error("Failed to compute analytics", zap.String("query", what), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve " + what})
}

func positiveQuery(c *gin.Context, key string, def int) (int, bool) {
	v, err := queryInt(c, key, def)
	if err != nil || v < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a positive integer"})
		return 0, false
	}
	return v, true
}

// boundedQuery is positiveQuery with an upper bound; larger values are rejected.
func boundedQuery(c *gin.Context, key string, def, upper int) (int, bool) {
	v, ok := positiveQuery(c, key, def)
	if ok && v > upper {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be at most " + strconv.Itoa(upper)})
		return 0, false
	}
	return v, ok
}

func limitQuery(c *gin.Context, def int) (int, bool) {
	limit, ok := positiveQuery(c, "limit", def)
	if limit > maxAnalyticsLimit {
		limit = maxAnalyticsLimit
	}
	return limit, ok
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

func nonNil(scans []*models.ScanRecord) []*models.ScanRecord {
	if scans == nil {
		return []*models.ScanRecord{}
	}
	return scans
}

// parseTimeParam accepts RFC3339 or a bare date. A bare date used as an end
// bound covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
