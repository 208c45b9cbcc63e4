package statistics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"phishguard/internal/metrics"
	"phishguard/internal/models"
	"phishguard/internal/repository"
)

// ErrConflict is returned when a user's statistics could not be written
// within the retry budget because other writers kept winning.
var ErrConflict = errors.New("statistics update conflict")

const DefaultMaxRetries = 5

// ApplyScan returns s updated with one more scan. A zero-total s is treated
// as the user's first scan.
func ApplyScan(s models.UserStatistics, isPhishing bool, riskScore float64, now time.Time) models.UserStatistics {
	now = now.UTC()
	first := s.TotalScans == 0

	s.TotalScans++
	if isPhishing {
		s.PhishingDetected++
	} else {
		s.SafeMessages++
	}
	s.RiskScoreSum += riskScore
	s.AverageRiskScore = s.RiskScoreSum / float64(s.TotalScans)
	if first {
		s.HighestRiskScore = riskScore
	} else {
		s.HighestRiskScore = math.Max(s.HighestRiskScore, riskScore)
	}
	if s.FirstScanDate == nil {
		s.FirstScanDate = &now
	}
	s.LastScanDate = &now
	s.UpdatedAt = now
	return s
}

// Delta is a change to the feedback counters.
type Delta struct {
	Provided  int64
	Correct   int64
	Incorrect int64
}

func (d Delta) IsZero() bool {
	return d == Delta{}
}

// FeedbackDelta returns the counter change for recording kind on a scan whose
// earlier feedback was previous (nil when none). Overwriting feedback moves
// the correct/incorrect contribution and leaves Provided unchanged.
func FeedbackDelta(kind models.Feedback, previous *models.Feedback) Delta {
	var d Delta
	if previous == nil {
		d.Provided = 1
	} else {
		d.Correct, d.Incorrect = contribution(*previous)
		d.Correct, d.Incorrect = -d.Correct, -d.Incorrect
	}
	correct, incorrect := contribution(kind)
	d.Correct += correct
	d.Incorrect += incorrect
	return d
}

func contribution(kind models.Feedback) (correct, incorrect int64) {
	switch kind {
	case models.FeedbackCorrect:
		return 1, 0
	case models.FeedbackIncorrect:
		return 0, 1
	}
	return 0, 0
}

// Aggregator maintains the per-user running statistics.
type Aggregator struct {
	maxRetries int
	logger     *zap.Logger
	now        func() time.Time
	repoFor    func(repository.DBTX) repository.StatisticsRepository
}

func NewAggregator(maxRetries int, logger *zap.Logger) *Aggregator {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &Aggregator{
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
		repoFor: func(db repository.DBTX) repository.StatisticsRepository {
			return repository.NewStatisticsRepository(db, logger)
		},
	}
}

// RecordScan folds one scan into the user's statistics through db, creating
// the row on the first scan. It does nothing for an empty userID.
func (a *Aggregator) RecordScan(ctx context.Context, db repository.DBTX, userID string, isPhishing bool, riskScore float64) error {
	if userID == "" {
		return nil
	}
	repo := a.repoFor(db)

	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		current, err := repo.Get(ctx, userID)
		if err != nil {
			return err
		}

		var written bool
		if current == nil {
			next := ApplyScan(models.UserStatistics{UserID: userID}, isPhishing, riskScore, a.now())
			written, err = repo.Create(ctx, &next)
		} else {
			next := ApplyScan(*current, isPhishing, riskScore, a.now())
			written, err = repo.CompareAndSwap(ctx, &next, current.Version)
		}
		if err != nil {
			return err
		}
		if written {
			return nil
		}

		metrics.StatisticsConflicts.Inc()
		a.logger.Debug("Statistics update lost a race, retrying",
			zap.String("user_id", userID), zap.Int("attempt", attempt))
	}

	a.logger.Warn("Statistics update retries exhausted", zap.String("user_id", userID), zap.Int("max_retries", a.maxRetries))
	return fmt.Errorf("user %q after %d attempts: %w", userID, a.maxRetries, ErrConflict)
}

// RecordFeedback applies the counter change for feedback on one of the
// user's scans. Users without statistics are left alone.
func (a *Aggregator) RecordFeedback(ctx context.Context, db repository.DBTX, userID string, kind models.Feedback, previous *models.Feedback) error {
	if userID == "" {
		return nil
	}
	delta := FeedbackDelta(kind, previous)
	if delta.IsZero() {
		return nil
	}

	found, err := a.repoFor(db).AddFeedback(ctx, userID, delta.Provided, delta.Correct, delta.Incorrect, a.now())
	if err != nil {
		return fmt.Errorf("failed to record feedback for %q: %w", userID, err)
	}
	if !found {
		a.logger.Debug("No statistics for user, feedback not aggregated", zap.String("user_id", userID))
	}
	return nil
}
