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

const scanColumns = `id, user_id, device_id, message_text, message_hash, is_phishing, risk_score,
	confidence_level, model_version, prediction_time_ms, created_at, user_feedback,
	feedback_timestamp, ip_address, user_agent`

// HistoryFilter selects a page of one user's scans.
type HistoryFilter struct {
	UserID       string
	Limit        int
	Offset       int
	PhishingOnly bool
}

// FeedbackCounts tallies feedback across the whole log.
type FeedbackCounts struct {
	Total     int64 `db:"total"`
	Correct   int64 `db:"correct"`
	Incorrect int64 `db:"incorrect"`
	Unsure    int64 `db:"unsure"`
}

// LatencySummary aggregates prediction_time_ms over rows where it is set.
// Avg, Min and Max are nil when Count is zero.
type LatencySummary struct {
	Count int64
	Avg   *float64
	Min   *int64
	Max   *int64
}

// ModelFeedback aggregates the scans of one model version. A prediction
// confirmed CORRECT counts as a true positive or negative by its verdict;
// INCORRECT counts as a false one.
type ModelFeedback struct {
	ModelVersion        string   `db:"model_version"`
	TotalPredictions    int64    `db:"total_predictions"`
	PhishingPredictions int64    `db:"phishing_predictions"`
	TruePositives       int64    `db:"true_positives"`
	FalsePositives      int64    `db:"false_positives"`
	TrueNegatives       int64    `db:"true_negatives"`
	FalseNegatives      int64    `db:"false_negatives"`
	Unsure              int64    `db:"unsure"`
	AvgLatencyMs        *float64 `db:"avg_latency_ms"`
	MinLatencyMs        *int64   `db:"min_latency_ms"`
	MaxLatencyMs        *int64   `db:"max_latency_ms"`
}

// Totals holds the log-wide figures shown on the dashboard.
type Totals struct {
	Total      int64
	Phishing   int64
	AvgRisk    *float64
	AvgLatency *float64
	Since      int64
}

type ScanRepository interface {
	Insert(ctx context.Context, scan *models.ScanRecord) error
	GetByID(ctx context.Context, id int64) (*models.ScanRecord, error)
	UpdateFeedback(ctx context.Context, id int64, previous *models.Feedback, feedback models.Feedback, at time.Time) error
	ListByUser(ctx context.Context, filter HistoryFilter) ([]*models.ScanRecord, int64, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.ScanRecord, error)
	ListHighRisk(ctx context.Context, threshold float64, limit int) ([]*models.ScanRecord, error)
	ListByDateRange(ctx context.Context, start, end time.Time, userID *string) ([]*models.ScanRecord, error)
	ListWithFeedback(ctx context.Context, kind *models.Feedback) ([]*models.ScanRecord, error)
	ListForExport(ctx context.Context, start, end *time.Time) ([]*models.ScanRecord, error)
	DuplicateGroups(ctx context.Context, userID *string, limit int) ([]models.DuplicateGroup, error)
	ListSince(ctx context.Context, since time.Time) ([]models.ScanPoint, error)
	RiskScores(ctx context.Context) ([]float64, error)
	FeedbackCounts(ctx context.Context) (FeedbackCounts, error)
	FeedbackByModel(ctx context.Context) ([]ModelFeedback, error)
	LatencySummary(ctx context.Context) (LatencySummary, error)
	Totals(ctx context.Context, since time.Time) (Totals, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	AnonymizeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type scanRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewScanRepository(db DBTX, logger *zap.Logger) ScanRepository {
	return &scanRepository{db: db, logger: logger}
}

func (r *scanRepository) Insert(ctx context.Context, scan *models.ScanRecord) error {
	query := r.db.Rebind(`INSERT INTO scan_history (user_id, device_id, message_text, message_hash, is_phishing,
		risk_score, confidence_level, model_version, prediction_time_ms, created_at, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := r.db.QueryRowxContext(ctx, query, scan.UserID, scan.DeviceID, scan.MessageText, scan.MessageHash,
		scan.IsPhishing, scan.RiskScore, string(scan.ConfidenceLevel), scan.ModelVersion, scan.PredictionTimeMs,
		scan.CreatedAt.UTC(), scan.IPAddress, scan.UserAgent).Scan(&scan.ID)
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}
	return nil
}

func (r *scanRepository) GetByID(ctx context.Context, id int64) (*models.ScanRecord, error) {
	var scan models.ScanRecord
	query := r.db.Rebind(`SELECT ` + scanColumns + ` FROM scan_history WHERE id = ?`)
	err := sqlx.GetContext(ctx, r.db, &scan, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	normalizeScanTimes(&scan)
	return &scan, nil
}

// UpdateFeedback sets the feedback on a scan only if its stored feedback still
// equals previous (nil for none). It returns ErrStale when another writer got
// there first and ErrNotFound when the scan does not exist.
func (r *scanRepository) UpdateFeedback(ctx context.Context, id int64, previous *models.Feedback, feedback models.Feedback, at time.Time) error {
	query := `UPDATE scan_history SET user_feedback = ?, feedback_timestamp = ? WHERE id = ?`
	args := []interface{}{string(feedback), at.UTC(), id}
	if previous == nil {
		query += ` AND user_feedback IS NULL`
	} else {
		query += ` AND user_feedback = ?`
		args = append(args, string(*previous))
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		r.logger.Error("Failed to update scan feedback", zap.Int64("scan_id", id), zap.Error(err))
		return err
	}

	ok, err := affectedOne(result)
	if err != nil || ok {
		return err
	}

	var exists int64
	if err := sqlx.GetContext(ctx, r.db, &exists, r.db.Rebind(`SELECT COUNT(*) FROM scan_history WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to check scan %d: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("scan %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("scan %d: %w", id, ErrStale)
}

func (r *scanRepository) ListByUser(ctx context.Context, filter HistoryFilter) ([]*models.ScanRecord, int64, error) {
	where := `WHERE user_id = ?`
	args := []interface{}{filter.UserID}
	if filter.PhishingOnly {
		where += ` AND is_phishing = ?`
		args = append(args, true)
	}

	var total int64
	if err := sqlx.GetContext(ctx, r.db, &total, r.db.Rebind(`SELECT COUNT(*) FROM scan_history `+where), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	query := r.db.Rebind(`SELECT ` + scanColumns + ` FROM scan_history ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	scans, err := r.selectScans(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return scans, total, nil
}

func (r *scanRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.ScanRecord, error) {
	query := r.db.Rebind(`SELECT ` + scanColumns + ` FROM scan_history WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC LIMIT ?`)
	return r.selectScans(ctx, query, since.UTC(), limit)
}

func (r *scanRepository) ListHighRisk(ctx context.Context, threshold float64, limit int) ([]*models.ScanRecord, error) {
	query := r.db.Rebind(`SELECT ` + scanColumns + ` FROM scan_history WHERE risk_score >= ?
		ORDER BY risk_score DESC, id DESC LIMIT ?`)
	return r.selectScans(ctx, query, threshold, limit)
}

func (r *scanRepository) ListByDateRange(ctx context.Context, start, end time.Time, userID *string) ([]*models.ScanRecord, error) {
	where := `WHERE created_at >= ? AND created_at <= ?`
	args := []interface{}{start.UTC(), end.UTC()}
	if userID != nil {
		where += ` AND user_id = ?`
		args = append(args, *userID)
	}
	query := r.db.Rebind(`SELECT ` + scanColumns + ` FROM scan_history ` + where + ` ORDER BY created_at DESC, id DESC`)
	return r.selectScans(ctx, query, args...)
}

func (r *scanRepository) ListWithFeedback(ctx context.Context, kind *models.Feedback) ([]*models.ScanRecord, error) {
	where := `WHERE user_feedback IS NOT NULL`
	var args []interface{}
	if kind != nil {
		where += ` AND user_feedback = ?`
		args = append(args, string(*kind))
	}
	query := r.db.Rebind(`SELECT ` + scanColumns + ` FROM scan_history ` + where + ` ORDER BY feedback_timestamp DESC, id DESC`)
	return r.selectScans(ctx, query, args...)
}

func (r *scanRepository) ListForExport(ctx context.Context, start, end *time.Time) ([]*models.ScanRecord, error) {
	where := `WHERE 1 = 1`
	var args []interface{}
	if start != nil {
		where += ` AND created_at >= ?`
		args = append(args, start.UTC())
	}
	if end != nil {
		where += ` AND created_at <= ?`
		args = append(args, end.UTC())
	}
	query := r.db.Rebind(`SELECT ` + scanColumns + ` FROM scan_history ` + where + ` ORDER BY created_at, id`)
	return r.selectScans(ctx, query, args...)
}

func (r *scanRepository) DuplicateGroups(ctx context.Context, userID *string, limit int) ([]models.DuplicateGroup, error) {
	where := `WHERE message_hash IS NOT NULL`
	var args []interface{}
	if userID != nil {
		where += ` AND user_id = ?`
		args = append(args, *userID)
	}
	query := r.db.Rebind(`SELECT message_hash, COUNT(id) AS count, MIN(created_at) AS first_scan
		FROM scan_history ` + where + `
		GROUP BY message_hash
		HAVING COUNT(id) > 1
		ORDER BY COUNT(id) DESC, MIN(created_at)
		LIMIT ?`)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicates: %w", err)
	}
	defer rows.Close()

	var groups []models.DuplicateGroup
	for rows.Next() {
		var (
			group models.DuplicateGroup
			first dbTime
		)
		if err := rows.Scan(&group.MessageHash, &group.Count, &first); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate group: %w", err)
		}
		group.FirstScan = first.Time
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (r *scanRepository) ListSince(ctx context.Context, since time.Time) ([]models.ScanPoint, error) {
	var points []models.ScanPoint
	query := r.db.Rebind(`SELECT created_at, is_phishing, risk_score FROM scan_history WHERE created_at >= ? ORDER BY created_at`)
	if err := sqlx.SelectContext(ctx, r.db, &points, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list scans since %s: %w", since.Format(time.RFC3339), err)
	}
	return points, nil
}

func (r *scanRepository) RiskScores(ctx context.Context) ([]float64, error) {
	var scores []float64
	if err := sqlx.SelectContext(ctx, r.db, &scores, `SELECT risk_score FROM scan_history`); err != nil {
		return nil, fmt.Errorf("failed to list risk scores: %w", err)
	}
	return scores, nil
}

func (r *scanRepository) FeedbackCounts(ctx context.Context) (FeedbackCounts, error) {
	var counts FeedbackCounts
	query := `
		SELECT
			COUNT(user_feedback) AS total,
			COALESCE(SUM(CASE WHEN user_feedback = 'CORRECT' THEN 1 ELSE 0 END), 0) AS correct,
			COALESCE(SUM(CASE WHEN user_feedback = 'INCORRECT' THEN 1 ELSE 0 END), 0) AS incorrect,
			COALESCE(SUM(CASE WHEN user_feedback = 'UNSURE' THEN 1 ELSE 0 END), 0) AS unsure
		FROM scan_history
	`
	if err := sqlx.GetContext(ctx, r.db, &counts, query); err != nil {
		return FeedbackCounts{}, fmt.Errorf("failed to count feedback: %w", err)
	}
	return counts, nil
}

func (r *scanRepository) FeedbackByModel(ctx context.Context) ([]ModelFeedback, error) {
	var rows []ModelFeedback
	query := `
		SELECT
			COALESCE(model_version, '') AS model_version,
			COUNT(*) AS total_predictions,
			COALESCE(SUM(CASE WHEN is_phishing THEN 1 ELSE 0 END), 0) AS phishing_predictions,
			COALESCE(SUM(CASE WHEN user_feedback = 'CORRECT' AND is_phishing THEN 1 ELSE 0 END), 0) AS true_positives,
			COALESCE(SUM(CASE WHEN user_feedback = 'INCORRECT' AND is_phishing THEN 1 ELSE 0 END), 0) AS false_positives,
			COALESCE(SUM(CASE WHEN user_feedback = 'CORRECT' AND NOT is_phishing THEN 1 ELSE 0 END), 0) AS true_negatives,
			COALESCE(SUM(CASE WHEN user_feedback = 'INCORRECT' AND NOT is_phishing THEN 1 ELSE 0 END), 0) AS false_negatives,
			COALESCE(SUM(CASE WHEN user_feedback = 'UNSURE' THEN 1 ELSE 0 END), 0) AS unsure,
			AVG(prediction_time_ms) AS avg_latency_ms,
			MIN(prediction_time_ms) AS min_latency_ms,
			MAX(prediction_time_ms) AS max_latency_ms
		FROM scan_history
		GROUP BY model_version
		ORDER BY model_version
	`
	if err := sqlx.SelectContext(ctx, r.db, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate feedback by model: %w", err)
	}
	return rows, nil
}

func (r *scanRepository) LatencySummary(ctx context.Context) (LatencySummary, error) {
	var (
		count        int64
		avg          sql.NullFloat64
		minMs, maxMs sql.NullInt64
	)
	query := `
		SELECT COUNT(prediction_time_ms), AVG(prediction_time_ms), MIN(prediction_time_ms), MAX(prediction_time_ms)
		FROM scan_history
		WHERE prediction_time_ms IS NOT NULL
	`
	if err := r.db.QueryRowxContext(ctx, query).Scan(&count, &avg, &minMs, &maxMs); err != nil {
		return LatencySummary{}, fmt.Errorf("failed to summarise latency: %w", err)
	}

	summary := LatencySummary{Count: count}
	if count > 0 {
		summary.Avg = nullFloat(avg)
		summary.Min = nullInt(minMs)
		summary.Max = nullInt(maxMs)
	}
	return summary, nil
}

func (r *scanRepository) Totals(ctx context.Context, since time.Time) (Totals, error) {
	var (
		totals              Totals
		avgRisk, avgLatency sql.NullFloat64
	)
	query := r.db.Rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_phishing THEN 1 ELSE 0 END), 0),
			AVG(risk_score),
			AVG(prediction_time_ms),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM scan_history
	`)
	err := r.db.QueryRowxContext(ctx, query, since.UTC()).Scan(&totals.Total, &totals.Phishing, &avgRisk, &avgLatency, &totals.Since)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to compute totals: %w", err)
	}
	totals.AvgRisk = nullFloat(avgRisk)
	totals.AvgLatency = nullFloat(avgLatency)
	return totals, nil
}

func (r *scanRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM scan_history WHERE created_at < ?`)
	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old scans: %w", err)
	}
	return result.RowsAffected()
}

// AnonymizeOlderThan clears identifying fields. Rows that are already clear
// are not touched, so repeated runs report zero.
func (r *scanRepository) AnonymizeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.db.Rebind(`
		UPDATE scan_history
		SET user_id = NULL, device_id = NULL, ip_address = NULL, user_agent = NULL
		WHERE created_at < ?
		  AND (user_id IS NOT NULL OR device_id IS NOT NULL OR ip_address IS NOT NULL OR user_agent IS NOT NULL)
	`)
	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize old scans: %w", err)
	}
	return result.RowsAffected()
}

func (r *scanRepository) selectScans(ctx context.Context, query string, args ...interface{}) ([]*models.ScanRecord, error) {
	var scans []*models.ScanRecord
	if err := sqlx.SelectContext(ctx, r.db, &scans, query, args...); err != nil {
		r.logger.Error("Failed to select scans", zap.Error(err))
		return nil, err
	}
	for _, s := range scans {
		normalizeScanTimes(s)
	}
	return scans, nil
}

func normalizeScanTimes(s *models.ScanRecord) {
	s.CreatedAt = s.CreatedAt.UTC()
	if s.FeedbackTimestamp != nil {
		t := s.FeedbackTimestamp.UTC()
		s.FeedbackTimestamp = &t
	}
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
