package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phishguard/internal/classifier"
	"phishguard/internal/models"
	"phishguard/internal/recorder"
	"phishguard/internal/repository"
	"phishguard/internal/statistics"
)

func newTestService(t *testing.T) (ScanService, *sqlx.DB) {
	t.Helper()
	logger := zap.NewNop()
	db, err := repository.NewDB(repository.DriverSQLite, "file::memory:?_time_format=sqlite", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, logger))

	svc := NewScanService(db, classifier.New(nil, logger), recorder.New(logger), statistics.NewAggregator(5, logger), logger)
	return svc, db
}

func TestScanHeuristicEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	scan, err := svc.Scan(ctx, ScanRequest{Message: "URGENT: click here now", UserID: "user_1", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	assert.NotZero(t, scan.ID)
	assert.Equal(t, 0.75, scan.RiskScore)
	assert.True(t, scan.IsPhishing)
	assert.Equal(t, models.ConfidenceHigh, scan.ConfidenceLevel)
	assert.Equal(t, classifier.HeuristicVersion, scan.ModelVersion)

	stats, err := svc.UserStatistics(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.TotalScans)
	assert.Equal(t, int64(1), stats.PhishingDetected)
	assert.Equal(t, 0.75, stats.HighestRiskScore)
}

func TestScanRejectsBlankMessage(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Scan(context.Background(), ScanRequest{Message: "   \n"})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestScanRejectsOverlongIDs(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Scan(ctx, ScanRequest{Message: "hello", UserID: strings.Repeat("u", MaxIDLength+1)})
	assert.ErrorIs(t, err, ErrIDTooLong)
	_, err = svc.Scan(ctx, ScanRequest{Message: "hello", DeviceID: strings.Repeat("d", MaxIDLength+1)})
	assert.ErrorIs(t, err, ErrIDTooLong)

	scans, err := repository.NewScanRepository(db, zap.NewNop()).ListForExport(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, scans)

	_, err = svc.Scan(ctx, ScanRequest{Message: "hello", UserID: strings.Repeat("é", MaxIDLength)})
	assert.NoError(t, err)
}

func TestScanWithoutUserSkipsStatistics(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Scan(ctx, ScanRequest{Message: "see you at lunch"})
	require.NoError(t, err)

	count, err := repository.NewStatisticsRepository(db, zap.NewNop()).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestScanRollsBackWhenStatisticsFail(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := db.Exec(`DROP TABLE user_statistics`)
	require.NoError(t, err)

	_, err = svc.Scan(ctx, ScanRequest{Message: "click me", UserID: "user_1"})
	require.Error(t, err)

	scans, err := repository.NewScanRepository(db, zap.NewNop()).ListForExport(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, scans)
}

func TestSubmitFeedback(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	scan, err := svc.Scan(ctx, ScanRequest{Message: "click the link", UserID: "user_2"})
	require.NoError(t, err)

	updated, err := svc.SubmitFeedback(ctx, scan.ID, "INCORRECT")
	require.NoError(t, err)
	require.NotNil(t, updated.UserFeedback)
	assert.Equal(t, models.FeedbackIncorrect, *updated.UserFeedback)

	stats, err := svc.UserStatistics(ctx, "user_2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FeedbackProvided)
	assert.Equal(t, int64(1), stats.IncorrectPredictions)
	assert.Equal(t, int64(0), stats.CorrectPredictions)

	_, err = svc.SubmitFeedback(ctx, scan.ID, "CORRECT")
	require.NoError(t, err)
	stats, err = svc.UserStatistics(ctx, "user_2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FeedbackProvided)
	assert.Equal(t, int64(1), stats.CorrectPredictions)
	assert.Equal(t, int64(0), stats.IncorrectPredictions)
}

func TestConcurrentFeedbackOnOneScanKeepsCountsConsistent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	scan, err := svc.Scan(ctx, ScanRequest{Message: "urgent invoice", UserID: "user_4"})
	require.NoError(t, err)

	kinds := []string{"CORRECT", "INCORRECT", "UNSURE"}
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(kind string) {
			defer wg.Done()
			_, err := svc.SubmitFeedback(ctx, scan.ID, kind)
			assert.NoError(t, err)
		}(kinds[i%len(kinds)])
	}
	wg.Wait()

	stored, err := repository.NewScanRepository(db, zap.NewNop()).GetByID(ctx, scan.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UserFeedback)

	stats, err := svc.UserStatistics(ctx, "user_4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FeedbackProvided)

	want := map[models.Feedback][2]int64{
		models.FeedbackCorrect:   {1, 0},
		models.FeedbackIncorrect: {0, 1},
		models.FeedbackUnsure:    {0, 0},
	}[*stored.UserFeedback]
	assert.Equal(t, want, [2]int64{stats.CorrectPredictions, stats.IncorrectPredictions})
}

func TestSubmitFeedbackErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SubmitFeedback(ctx, 1, "MAYBE")
	assert.ErrorIs(t, err, ErrInvalidFeedback)

	_, err = svc.SubmitFeedback(ctx, 999, "CORRECT")
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, msg := range []string{"urgent one", "hello", "click two", "lunch"} {
		_, err := svc.Scan(ctx, ScanRequest{Message: msg, UserID: "user_3"})
		require.NoError(t, err)
	}

	_, err := svc.History(ctx, " ", 10, 0, false)
	assert.ErrorIs(t, err, ErrMissingUser)

	page, err := svc.History(ctx, "user_3", 3, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.TotalCount)
	assert.Len(t, page.Scans, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, "lunch", page.Scans[0].MessageText)

	page, err = svc.History(ctx, "user_3", 1000, 0, true)
	require.NoError(t, err)
	assert.Equal(t, MaxHistoryLimit, page.Limit)
	assert.Equal(t, int64(2), page.TotalCount)
	assert.False(t, page.HasMore)

	page, err = svc.History(ctx, "nobody", 0, 0, false)
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryLimit, page.Limit)
	assert.NotNil(t, page.Scans)
	assert.Empty(t, page.Scans)
}
