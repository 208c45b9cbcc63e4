package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phishguard/internal/models"
	"phishguard/internal/repository"
)

// Engine answers read-only reporting queries over the scan log.
type Engine struct {
	scans        repository.ScanRepository
	stats        repository.StatisticsRepository
	modelVersion string
	logger       *zap.Logger
	now          func() time.Time
}

func NewEngine(scans repository.ScanRepository, stats repository.StatisticsRepository, modelVersion string, logger *zap.Logger) *Engine {
	return &Engine{
		scans:        scans,
		stats:        stats,
		modelVersion: modelVersion,
		logger:       logger,
		now:          time.Now,
	}
}

func (e *Engine) Recent(ctx context.Context, window time.Duration, limit int) ([]*models.ScanRecord, error) {
	return e.scans.ListRecent(ctx, e.now().Add(-window), limit)
}

func (e *Engine) HighRisk(ctx context.Context, threshold float64, limit int) ([]*models.ScanRecord, error) {
	return e.scans.ListHighRisk(ctx, threshold, limit)
}

// DateRange returns scans created within [start, end], optionally for one user.
func (e *Engine) DateRange(ctx context.Context, start, end time.Time, userID *string) ([]*models.ScanRecord, error) {
	return e.scans.ListByDateRange(ctx, start, end, userID)
}

func (e *Engine) WithFeedback(ctx context.Context, kind *models.Feedback) ([]*models.ScanRecord, error) {
	return e.scans.ListWithFeedback(ctx, kind)
}

func (e *Engine) Duplicates(ctx context.Context, userID *string, limit int) ([]models.DuplicateGroup, error) {
	return e.scans.DuplicateGroups(ctx, userID, limit)
}

func (e *Engine) HourlyVolume(ctx context.Context, days int) ([]HourBucket, error) {
	if err := checkWindow(days); err != nil {
		return nil, err
	}
	points, err := e.scans.ListSince(ctx, e.windowStart(days))
	if err != nil {
		return nil, err
	}
	return HourlyVolume(points), nil
}

func (e *Engine) DailyTrend(ctx context.Context, days int) ([]DayBucket, error) {
	if err := checkWindow(days); err != nil {
		return nil, err
	}
	now := e.now()
	start := e.windowStart(days)
	points, err := e.scans.ListSince(ctx, start)
	if err != nil {
		return nil, err
	}
	return DailyTrend(points, start, now), nil
}

func (e *Engine) RiskHistogram(ctx context.Context, bins int) ([]HistogramBin, error) {
	if bins < 1 || bins > MaxBins {
		return RiskHistogram(nil, bins)
	}
	scores, err := e.scans.RiskScores(ctx)
	if err != nil {
		return nil, err
	}
	return RiskHistogram(scores, bins)
}

func (e *Engine) Accuracy(ctx context.Context) (AccuracyReport, error) {
	counts, err := e.scans.FeedbackCounts(ctx)
	if err != nil {
		return AccuracyReport{}, err
	}
	return Accuracy(counts), nil
}

// ModelMetrics reports the feedback confusion matrix per model version.
func (e *Engine) ModelMetrics(ctx context.Context) ([]ModelMetrics, error) {
	rows, err := e.scans.FeedbackByModel(ctx)
	if err != nil {
		return nil, err
	}
	metrics := make([]ModelMetrics, 0, len(rows))
	for _, row := range rows {
		metrics = append(metrics, ModelMetricsFor(row))
	}
	return metrics, nil
}

func (e *Engine) Latency(ctx context.Context) (LatencyReport, error) {
	summary, err := e.scans.LatencySummary(ctx)
	if err != nil {
		return LatencyReport{}, err
	}
	return Latency(summary), nil
}

func (e *Engine) TopUsers(ctx context.Context, limit int) ([]*models.UserStatistics, error) {
	return e.stats.TopByScans(ctx, limit)
}

func (e *Engine) Dashboard(ctx context.Context) (Dashboard, error) {
	now := e.now().UTC()
	totals, err := e.scans.Totals(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return Dashboard{}, err
	}
	users, err := e.stats.Count(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		TotalScans:       totals.Total,
		PhishingDetected: totals.Phishing,
		SafeMessages:     totals.Total - totals.Phishing,
		PhishingRate:     rate(totals.Phishing, totals.Total),
		ScansLast24h:     totals.Since,
		TotalUsers:       users,
		ModelVersion:     e.modelVersion,
		Timestamp:        now,
	}
	if totals.AvgRisk != nil {
		d.AverageRiskScore = models.RoundRisk(*totals.AvgRisk)
	}
	if totals.AvgLatency != nil {
		d.AverageLatencyMs = models.Round(*totals.AvgLatency, 2)
	}

	e.logger.Debug("Dashboard computed", zap.Int64("total_scans", d.TotalScans), zap.Int64("total_users", d.TotalUsers))
	return d, nil
}

func checkWindow(days int) error {
	if days < 1 || days > MaxWindowDays {
		return fmt.Errorf("%d: %w", days, ErrInvalidWindow)
	}
	return nil
}

func (e *Engine) windowStart(days int) time.Time {
	return e.now().UTC().AddDate(0, 0, -days)
}
