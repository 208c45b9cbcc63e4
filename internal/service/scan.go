package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"phishguard/internal/classifier"
	"phishguard/internal/metrics"
	"phishguard/internal/models"
	"phishguard/internal/recorder"
	"phishguard/internal/repository"
	"phishguard/internal/statistics"
)

var (
	ErrEmptyMessage    = errors.New("message is required")
	ErrInvalidFeedback = errors.New("feedback must be CORRECT, INCORRECT or UNSURE")
	ErrScanNotFound    = errors.New("scan not found")
	ErrMissingUser     = errors.New("user_id is required")
	ErrIDTooLong       = fmt.Errorf("user_id and device_id must be at most %d characters", MaxIDLength)
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	// MaxIDLength matches the user_id and device_id columns.
	MaxIDLength = 100

	maxFeedbackAttempts = 5
)

type ScanRequest struct {
	Message   string
	UserID    string
	DeviceID  string
	IPAddress string
	UserAgent string
}

type HistoryPage struct {
	UserID     string               `json:"user_id"`
	Scans      []*models.ScanRecord `json:"scans"`
	TotalCount int64                `json:"total_count"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
	HasMore    bool                 `json:"has_more"`
}

type ScanService interface {
	Scan(ctx context.Context, req ScanRequest) (*models.ScanRecord, error)
	SubmitFeedback(ctx context.Context, scanID int64, feedback string) (*models.ScanRecord, error)
	History(ctx context.Context, userID string, limit, offset int, phishingOnly bool) (*HistoryPage, error)
	UserStatistics(ctx context.Context, userID string) (*models.UserStatistics, error)
}

type scanService struct {
	db         *sqlx.DB
	classifier *classifier.Classifier
	recorder   *recorder.Recorder
	aggregator *statistics.Aggregator
	scans      repository.ScanRepository
	stats      repository.StatisticsRepository
	logger     *zap.Logger
}

func NewScanService(db *sqlx.DB, c *classifier.Classifier, rec *recorder.Recorder, agg *statistics.Aggregator, logger *zap.Logger) ScanService {
	return &scanService{
		db:         db,
		classifier: c,
		recorder:   rec,
		aggregator: agg,
		scans:      repository.NewScanRepository(db, logger),
		stats:      repository.NewStatisticsRepository(db, logger),
		logger:     logger,
	}
}

// Scan classifies the message, then records the scan and folds it into the
// user's statistics in one transaction.
func (s *scanService) Scan(ctx context.Context, req ScanRequest) (*models.ScanRecord, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	userID := strings.TrimSpace(req.UserID)
	deviceID := strings.TrimSpace(req.DeviceID)
	if utf8.RuneCountInString(userID) > MaxIDLength || utf8.RuneCountInString(deviceID) > MaxIDLength {
		return nil, ErrIDTooLong
	}

	result := s.classifier.Classify(ctx, text)
	metrics.ScansTotal.WithLabelValues(result.Source, metrics.Verdict(result.IsPhishing)).Inc()
	metrics.ScanLatency.Observe(float64(result.LatencyMs))

	var scan *models.ScanRecord
	err := repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		scan, err = s.recorder.Record(ctx, tx, recorder.Input{
			Text:      text,
			UserID:    userID,
			DeviceID:  deviceID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		}, result)
		if err != nil {
			return err
		}
		return s.aggregator.RecordScan(ctx, tx, userID, result.IsPhishing, result.RiskScore)
	})
	if err != nil {
		s.logger.Error("Failed to record scan", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	s.logger.Info("Message scanned",
		zap.Int64("scan_id", scan.ID),
		zap.Bool("is_phishing", scan.IsPhishing),
		zap.String("confidence", string(scan.ConfidenceLevel)),
		zap.String("source", result.Source))
	return scan, nil
}

// SubmitFeedback stores feedback on a scan and adjusts the owner's feedback
// counters in one transaction. Resubmitting replaces the earlier feedback.
func (s *scanService) SubmitFeedback(ctx context.Context, scanID int64, feedback string) (*models.ScanRecord, error) {
	kind, ok := models.ParseFeedback(strings.TrimSpace(feedback))
	if !ok {
		return nil, ErrInvalidFeedback
	}

	var scan *models.ScanRecord
	err := repository.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		scans := repository.NewScanRepository(tx, s.logger)
		now := time.Now().UTC()

		for attempt := 1; ; attempt++ {
			var err error
			scan, err = scans.GetByID(ctx, scanID)
			if err != nil {
				return err
			}
			if scan == nil {
				return ErrScanNotFound
			}

			// The update only applies over the feedback just read, so
			// concurrent submissions cannot both count as the first one.
			previous := scan.UserFeedback
			err = scans.UpdateFeedback(ctx, scanID, previous, kind, now)
			if errors.Is(err, repository.ErrStale) && attempt < maxFeedbackAttempts {
				s.logger.Debug("Feedback changed concurrently, retrying", zap.Int64("scan_id", scanID), zap.Int("attempt", attempt))
				continue
			}
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrScanNotFound
				}
				return err
			}

			scan.UserFeedback = &kind
			scan.FeedbackTimestamp = &now
			if scan.UserID == nil {
				return nil
			}
			return s.aggregator.RecordFeedback(ctx, tx, *scan.UserID, kind, previous)
		}
	})
	if err != nil {
		if errors.Is(err, ErrScanNotFound) {
			return nil, err
		}
		s.logger.Error("Failed to submit feedback", zap.Int64("scan_id", scanID), zap.Error(err))
		return nil, fmt.Errorf("failed to submit feedback: %w", err)
	}

	metrics.FeedbackTotal.WithLabelValues(string(kind)).Inc()
	s.logger.Info("Feedback recorded", zap.Int64("scan_id", scanID), zap.String("feedback", string(kind)))
	return scan, nil
}

func (s *scanService) History(ctx context.Context, userID string, limit, offset int, phishingOnly bool) (*HistoryPage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	scans, total, err := s.scans.ListByUser(ctx, repository.HistoryFilter{
		UserID:       userID,
		Limit:        limit,
		Offset:       offset,
		PhishingOnly: phishingOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if scans == nil {
		scans = []*models.ScanRecord{}
	}

	return &HistoryPage{
		UserID:     userID,
		Scans:      scans,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    int64(offset+len(scans)) < total,
	}, nil
}

// UserStatistics returns nil when the user has never scanned.
func (s *scanService) UserStatistics(ctx context.Context, userID string) (*models.UserStatistics, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}
	return s.stats.Get(ctx, userID)
}
