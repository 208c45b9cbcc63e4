package statistics

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phishguard/internal/models"
	"phishguard/internal/repository"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := repository.NewDB(repository.DriverSQLite, "file::memory:?_time_format=sqlite", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, zap.NewNop()))
	return db
}

func feedbackPtr(f models.Feedback) *models.Feedback { return &f }

func TestApplyScanRunningMean(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s := models.UserStatistics{UserID: "user_7"}
	for i := 1; i <= 10; i++ {
		risk := float64(i) / 10
		s = ApplyScan(s, risk > 0.5, risk, now.Add(time.Duration(i)*time.Minute))
	}

	assert.Equal(t, int64(10), s.TotalScans)
	assert.Equal(t, int64(5), s.PhishingDetected)
	assert.Equal(t, int64(5), s.SafeMessages)
	assert.InDelta(t, 0.55, s.AverageRiskScore, 1e-12)
	assert.Equal(t, 1.0, s.HighestRiskScore)
	assert.Equal(t, now.Add(time.Minute), *s.FirstScanDate)
	assert.Equal(t, now.Add(10*time.Minute), *s.LastScanDate)
}

func TestApplyScanFirstScanSetsMax(t *testing.T) {
	s := ApplyScan(models.UserStatistics{UserID: "u"}, false, 0.05, time.Now())
	assert.Equal(t, 0.05, s.HighestRiskScore)
	assert.Equal(t, 0.05, s.AverageRiskScore)
}

func TestApplyScanIsOrderIndependent(t *testing.T) {
	scores := []float64{0.12, 0.97, 0.33, 0.5, 0.81, 0.02, 0.66}
	now := time.Now()

	var forward models.UserStatistics
	for _, r := range scores {
		forward = ApplyScan(forward, r > 0.5, r, now)
	}

	shuffled := append([]float64(nil), scores...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	var other models.UserStatistics
	for _, r := range shuffled {
		other = ApplyScan(other, r > 0.5, r, now)
	}

	assert.Equal(t, forward.TotalScans, other.TotalScans)
	assert.Equal(t, forward.PhishingDetected, other.PhishingDetected)
	assert.Equal(t, forward.HighestRiskScore, other.HighestRiskScore)
	assert.InDelta(t, forward.AverageRiskScore, other.AverageRiskScore, 1e-12)
}

func TestFeedbackDelta(t *testing.T) {
	cases := []struct {
		name     string
		kind     models.Feedback
		previous *models.Feedback
		want     Delta
	}{
		{"first correct", models.FeedbackCorrect, nil, Delta{Provided: 1, Correct: 1}},
		{"first incorrect", models.FeedbackIncorrect, nil, Delta{Provided: 1, Incorrect: 1}},
		{"first unsure", models.FeedbackUnsure, nil, Delta{Provided: 1}},
		{"correct to incorrect", models.FeedbackIncorrect, feedbackPtr(models.FeedbackCorrect), Delta{Correct: -1, Incorrect: 1}},
		{"unsure to correct", models.FeedbackCorrect, feedbackPtr(models.FeedbackUnsure), Delta{Correct: 1}},
		{"incorrect to unsure", models.FeedbackUnsure, feedbackPtr(models.FeedbackIncorrect), Delta{Incorrect: -1}},
		{"repeat", models.FeedbackCorrect, feedbackPtr(models.FeedbackCorrect), Delta{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FeedbackDelta(tc.kind, tc.previous))
		})
	}
}

func TestRecordScanCreatesAndUpdates(t *testing.T) {
	db := newTestDB(t)
	agg := NewAggregator(5, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		risk := float64(i) / 10
		require.NoError(t, agg.RecordScan(ctx, db, "user_7", risk > 0.5, risk))
	}
	require.NoError(t, agg.RecordScan(ctx, db, "", true, 0.9))

	s, err := repository.NewStatisticsRepository(db, zap.NewNop()).Get(ctx, "user_7")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(10), s.TotalScans)
	assert.InDelta(t, 0.55, s.AverageRiskScore, 1e-12)
	assert.Equal(t, 1.0, s.HighestRiskScore)
	assert.Equal(t, int64(9), s.Version)

	count, err := repository.NewStatisticsRepository(db, zap.NewNop()).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecordScanConcurrentSameUser(t *testing.T) {
	db := newTestDB(t)
	const workers, perWorker = 8, 10
	agg := NewAggregator(workers*perWorker+1, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, agg.RecordScan(ctx, db, "shared", false, 0.25))
			}
		}()
	}
	wg.Wait()

	s, err := repository.NewStatisticsRepository(db, zap.NewNop()).Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), s.TotalScans)
	assert.Equal(t, s.TotalScans, s.PhishingDetected+s.SafeMessages)
	assert.InDelta(t, 0.25, s.AverageRiskScore, 1e-12)
}

type losingRepo struct {
	repository.StatisticsRepository
	attempts int
}

func (r *losingRepo) Get(context.Context, string) (*models.UserStatistics, error) {
	return &models.UserStatistics{UserID: "u", TotalScans: 1, SafeMessages: 1}, nil
}

func (r *losingRepo) CompareAndSwap(context.Context, *models.UserStatistics, int64) (bool, error) {
	r.attempts++
	return false, nil
}

func TestRecordScanExhaustsRetries(t *testing.T) {
	repo := &losingRepo{}
	agg := NewAggregator(3, zap.NewNop())
	agg.repoFor = func(repository.DBTX) repository.StatisticsRepository { return repo }

	err := agg.RecordScan(context.Background(), nil, "u", true, 0.9)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, repo.attempts)
}

func TestRecordFeedback(t *testing.T) {
	db := newTestDB(t)
	agg := NewAggregator(5, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, agg.RecordFeedback(ctx, db, "ghost", models.FeedbackCorrect, nil))

	require.NoError(t, agg.RecordScan(ctx, db, "u1", true, 0.9))
	require.NoError(t, agg.RecordFeedback(ctx, db, "u1", models.FeedbackCorrect, nil))
	require.NoError(t, agg.RecordFeedback(ctx, db, "u1", models.FeedbackIncorrect, feedbackPtr(models.FeedbackCorrect)))

	s, err := repository.NewStatisticsRepository(db, zap.NewNop()).Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.FeedbackProvided)
	assert.Equal(t, int64(0), s.CorrectPredictions)
	assert.Equal(t, int64(1), s.IncorrectPredictions)
}
