package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"phishguard/internal/models"
)

const statisticsColumns = `user_id, total_scans, phishing_detected, safe_messages, risk_score_sum,
	average_risk_score, highest_risk_score, first_scan_date, last_scan_date, feedback_provided,
	correct_predictions, incorrect_predictions, updated_at, version`

type StatisticsRepository interface {
	Get(ctx context.Context, userID string) (*models.UserStatistics, error)
	Create(ctx context.Context, stats *models.UserStatistics) (bool, error)
	CompareAndSwap(ctx context.Context, stats *models.UserStatistics, expectedVersion int64) (bool, error)
	AddFeedback(ctx context.Context, userID string, provided, correct, incorrect int64, at time.Time) (bool, error)
	Count(ctx context.Context) (int64, error)
	TopByScans(ctx context.Context, limit int) ([]*models.UserStatistics, error)
}

type statisticsRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewStatisticsRepository(db DBTX, logger *zap.Logger) StatisticsRepository {
	return &statisticsRepository{db: db, logger: logger}
}

func (r *statisticsRepository) Get(ctx context.Context, userID string) (*models.UserStatistics, error) {
	var stats models.UserStatistics
	query := r.db.Rebind(`SELECT ` + statisticsColumns + ` FROM user_statistics WHERE user_id = ?`)
	if err := sqlx.GetContext(ctx, r.db, &stats, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get statistics for %q: %w", userID, err)
	}
	return &stats, nil
}

// Create inserts stats unless a row for the user already exists. It reports
// false when another writer created the row first.
func (r *statisticsRepository) Create(ctx context.Context, stats *models.UserStatistics) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO user_statistics (` + statisticsColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`)
	result, err := r.db.ExecContext(ctx, query,
		stats.UserID, stats.TotalScans, stats.PhishingDetected, stats.SafeMessages, stats.RiskScoreSum,
		stats.AverageRiskScore, stats.HighestRiskScore, utcPtr(stats.FirstScanDate), utcPtr(stats.LastScanDate),
		stats.FeedbackProvided, stats.CorrectPredictions, stats.IncorrectPredictions, stats.UpdatedAt.UTC(), stats.Version)
	if err != nil {
		return false, fmt.Errorf("failed to create statistics for %q: %w", stats.UserID, err)
	}
	return affectedOne(result)
}

// CompareAndSwap writes stats only if the stored version still equals
// expectedVersion, bumping the version on success.
func (r *statisticsRepository) CompareAndSwap(ctx context.Context, stats *models.UserStatistics, expectedVersion int64) (bool, error) {
	query := r.db.Rebind(`
		UPDATE user_statistics SET
			total_scans = ?, phishing_detected = ?, safe_messages = ?, risk_score_sum = ?,
			average_risk_score = ?, highest_risk_score = ?, first_scan_date = ?, last_scan_date = ?,
			feedback_provided = ?, correct_predictions = ?, incorrect_predictions = ?,
			updated_at = ?, version = ?
		WHERE user_id = ? AND version = ?
	`)
	result, err := r.db.ExecContext(ctx, query,
		stats.TotalScans, stats.PhishingDetected, stats.SafeMessages, stats.RiskScoreSum,
		stats.AverageRiskScore, stats.HighestRiskScore, utcPtr(stats.FirstScanDate), utcPtr(stats.LastScanDate),
		stats.FeedbackProvided, stats.CorrectPredictions, stats.IncorrectPredictions,
		stats.UpdatedAt.UTC(), expectedVersion+1, stats.UserID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update statistics for %q: %w", stats.UserID, err)
	}

	ok, err := affectedOne(result)
	if ok {
		stats.Version = expectedVersion + 1
	}
	return ok, err
}

// AddFeedback applies feedback counter deltas in a single statement. It
// reports false when the user has no statistics row.
func (r *statisticsRepository) AddFeedback(ctx context.Context, userID string, provided, correct, incorrect int64, at time.Time) (bool, error) {
	query := r.db.Rebind(`
		UPDATE user_statistics SET
			feedback_provided = feedback_provided + ?,
			correct_predictions = correct_predictions + ?,
			incorrect_predictions = incorrect_predictions + ?,
			updated_at = ?,
			version = version + 1
		WHERE user_id = ?
	`)
	result, err := r.db.ExecContext(ctx, query, provided, correct, incorrect, at.UTC(), userID)
	if err != nil {
		r.logger.Error("Failed to add feedback to statistics", zap.String("user_id", userID), zap.Error(err))
		return false, err
	}
	return affectedOne(result)
}

func (r *statisticsRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := sqlx.GetContext(ctx, r.db, &count, `SELECT COUNT(*) FROM user_statistics`); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (r *statisticsRepository) TopByScans(ctx context.Context, limit int) ([]*models.UserStatistics, error) {
	var users []*models.UserStatistics
	query := r.db.Rebind(`SELECT ` + statisticsColumns + ` FROM user_statistics ORDER BY total_scans DESC, user_id LIMIT ?`)
	if err := sqlx.SelectContext(ctx, r.db, &users, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list top users: %w", err)
	}
	return users, nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
