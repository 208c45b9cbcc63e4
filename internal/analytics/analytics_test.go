package analytics

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"phishguard/internal/models"
	"phishguard/internal/repository"
)

func point(at time.Time, phishing bool) models.ScanPoint {
	return models.ScanPoint{CreatedAt: at, IsPhishing: phishing}
}

func TestHourlyVolume(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	points := []models.ScanPoint{
		point(day.Add(9*time.Hour), true),
		point(day.Add(9*time.Hour+30*time.Minute), false),
		point(day.Add(23*time.Hour+59*time.Minute), true),
	}

	buckets := HourlyVolume(points)
	require.Len(t, buckets, 24)
	assert.Equal(t, HourBucket{Hour: 9, ScanCount: 2, PhishingCount: 1}, buckets[9])
	assert.Equal(t, int64(1), buckets[23].ScanCount)
	assert.Equal(t, HourBucket{Hour: 0}, buckets[0])
}

func TestDailyTrendZeroFillsAndGuardsRate(t *testing.T) {
	start := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 4, 8, 0, 0, 0, time.UTC)
	points := []models.ScanPoint{
		point(time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC), true),
		point(time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC), false),
		point(time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC), false),
		point(time.Date(2024, 6, 3, 1, 0, 0, 0, time.UTC), true),
	}

	trend := DailyTrend(points, start, end)
	require.Len(t, trend, 4)
	assert.Equal(t, DayBucket{Date: "2024-06-01", TotalScans: 3, PhishingCount: 1, PhishingRate: 33.33}, trend[0])
	assert.Equal(t, DayBucket{Date: "2024-06-02"}, trend[1])
	assert.Equal(t, 100.0, trend[2].PhishingRate)
	assert.Equal(t, "2024-06-04", trend[3].Date)
}

func TestRiskHistogram(t *testing.T) {
	_, err := RiskHistogram([]float64{0.5}, 0)
	assert.ErrorIs(t, err, ErrInvalidBins)
	_, err = RiskHistogram([]float64{0.5}, MaxBins+1)
	assert.ErrorIs(t, err, ErrInvalidBins)

	widest, err := RiskHistogram([]float64{0.5}, MaxBins)
	require.NoError(t, err)
	assert.Len(t, widest, MaxBins)

	hist, err := RiskHistogram([]float64{0, 0.1, 0.3, 0.7, 0.9999, 1.0}, 10)
	require.NoError(t, err)
	require.Len(t, hist, 10)
	assert.Equal(t, "0.00-0.10", hist[0].Range)
	assert.Equal(t, int64(1), hist[0].Count)
	assert.Equal(t, int64(1), hist[1].Count)
	assert.Equal(t, int64(1), hist[3].Count)
	assert.Equal(t, int64(1), hist[7].Count)
	assert.Equal(t, int64(2), hist[9].Count)
}

func TestRiskHistogramCountsSumToTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	scores := make([]float64, 1000)
	for i := range scores {
		scores[i] = rng.Float64()
	}
	scores = append(scores, 0, 1, 0.5)

	for bins := 1; bins <= 37; bins++ {
		hist, err := RiskHistogram(scores, bins)
		require.NoError(t, err)
		var sum int64
		for _, b := range hist {
			sum += b.Count
		}
		assert.Equal(t, int64(len(scores)), sum, "bins=%d", bins)
	}
}

func TestBinIndexRespectsEdges(t *testing.T) {
	for bins := 1; bins <= 50; bins++ {
		for i := 1; i < bins; i++ {
			edge := binEdge(i, bins)
			assert.Equal(t, i, binIndex(edge, bins), "edge %d/%d", i, bins)
		}
	}
}

func TestAccuracy(t *testing.T) {
	none := Accuracy(repository.FeedbackCounts{Total: 2, Unsure: 2})
	assert.Nil(t, none.Accuracy)
	assert.NotEmpty(t, none.Message)

	all := Accuracy(repository.FeedbackCounts{Total: 3, Correct: 3})
	require.NotNil(t, all.Accuracy)
	assert.Equal(t, 100.0, *all.Accuracy)

	wrong := Accuracy(repository.FeedbackCounts{Total: 2, Incorrect: 2})
	require.NotNil(t, wrong.Accuracy)
	assert.Equal(t, 0.0, *wrong.Accuracy)

	mixed := Accuracy(repository.FeedbackCounts{Total: 3, Correct: 2, Incorrect: 1})
	assert.Equal(t, 66.67, *mixed.Accuracy)
}

func TestLatencyWithoutData(t *testing.T) {
	report := Latency(repository.LatencySummary{})
	assert.Zero(t, report.TotalPredictions)
	assert.Nil(t, report.AverageMs)
	assert.Nil(t, report.MinMs)
}

func TestEngineAgainstDatabase(t *testing.T) {
	db, err := repository.NewDB(repository.DriverSQLite, "file::memory:?_time_format=sqlite", zap.NewNop())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, repository.MigrateDB(db, zap.NewNop()))

	logger := zap.NewNop()
	scans := repository.NewScanRepository(db, logger)
	stats := repository.NewStatisticsRepository(db, logger)
	engine := NewEngine(scans, stats, "v1.0.0", logger)
	ctx := context.Background()

	empty, err := engine.Dashboard(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalScans)
	assert.Zero(t, empty.PhishingRate)

	now := time.Now().UTC()
	ms := int64(10)
	user := "u1"
	for i, risk := range []float64{0.9, 0.8, 0.2, 0.1} {
		require.NoError(t, scans.Insert(ctx, &models.ScanRecord{
			UserID:           &user,
			MessageText:      "m",
			MessageHash:      "h",
			IsPhishing:       risk > 0.5,
			RiskScore:        risk,
			ConfidenceLevel:  models.ConfidenceHigh,
			ModelVersion:     "v1.0.0",
			PredictionTimeMs: &ms,
			CreatedAt:        now.Add(-time.Duration(i) * time.Hour),
		}))
	}

	d, err := engine.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), d.TotalScans)
	assert.Equal(t, int64(2), d.SafeMessages)
	assert.Equal(t, 50.0, d.PhishingRate)
	assert.Equal(t, 0.5, d.AverageRiskScore)
	assert.Equal(t, 10.0, d.AverageLatencyMs)
	assert.Equal(t, "v1.0.0", d.ModelVersion)

	hist, err := engine.RiskHistogram(ctx, 5)
	require.NoError(t, err)
	var sum int64
	for _, b := range hist {
		sum += b.Count
	}
	assert.Equal(t, int64(4), sum)

	_, err = engine.RiskHistogram(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidBins)

	trend, err := engine.DailyTrend(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, trend, 8)

	_, err = engine.DailyTrend(ctx, MaxWindowDays+1)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = engine.HourlyVolume(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = engine.RiskHistogram(ctx, MaxBins+1)
	assert.ErrorIs(t, err, ErrInvalidBins)

	dups, err := engine.Duplicates(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, int64(4), dups[0].Count)

	acc, err := engine.Accuracy(ctx)
	require.NoError(t, err)
	assert.Nil(t, acc.Accuracy)

	recent, err := engine.Recent(ctx, 90*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestModelMetricsFor(t *testing.T) {
	avg := 12.346
	m := ModelMetricsFor(repository.ModelFeedback{
		ModelVersion:        "v1.0.0",
		TotalPredictions:    14,
		PhishingPredictions: 6,
		TruePositives:       3,
		FalsePositives:      1,
		TrueNegatives:       5,
		FalseNegatives:      1,
		Unsure:              2,
		AvgLatencyMs:        &avg,
	})

	assert.Equal(t, int64(8), m.SafePredictions)
	require.NotNil(t, m.Precision)
	require.NotNil(t, m.Recall)
	require.NotNil(t, m.F1Score)
	require.NotNil(t, m.Accuracy)
	assert.Equal(t, 0.75, *m.Precision)
	assert.Equal(t, 0.75, *m.Recall)
	assert.Equal(t, 0.75, *m.F1Score)
	assert.Equal(t, 0.8, *m.Accuracy)
	assert.Equal(t, 12.35, *m.AverageLatencyMs)

	empty := ModelMetricsFor(repository.ModelFeedback{ModelVersion: "heuristic", TotalPredictions: 3})
	assert.Nil(t, empty.Precision)
	assert.Nil(t, empty.Recall)
	assert.Nil(t, empty.F1Score)
	assert.Nil(t, empty.Accuracy)

	noRecall := ModelMetricsFor(repository.ModelFeedback{FalsePositives: 2})
	require.NotNil(t, noRecall.Precision)
	assert.Zero(t, *noRecall.Precision)
	assert.Nil(t, noRecall.Recall)
	assert.Nil(t, noRecall.F1Score)
}

func TestEngineModelMetrics(t *testing.T) {
	db, err := repository.NewDB(repository.DriverSQLite, "file::memory:?_time_format=sqlite", zap.NewNop())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, repository.MigrateDB(db, zap.NewNop()))

	logger := zap.NewNop()
	scans := repository.NewScanRepository(db, logger)
	engine := NewEngine(scans, repository.NewStatisticsRepository(db, logger), "v2", logger)
	ctx := context.Background()

	insert := func(version string, phishing bool, feedback *models.Feedback) {
		ms := int64(20)
		scan := &models.ScanRecord{
			MessageText:      "m",
			MessageHash:      "h",
			IsPhishing:       phishing,
			RiskScore:        0.5,
			ConfidenceLevel:  models.ConfidenceLow,
			ModelVersion:     version,
			PredictionTimeMs: &ms,
			CreatedAt:        time.Now().UTC(),
		}
		require.NoError(t, scans.Insert(ctx, scan))
		if feedback != nil {
			require.NoError(t, scans.UpdateFeedback(ctx, scan.ID, nil, *feedback, time.Now().UTC()))
		}
	}
	correct, incorrect := models.FeedbackCorrect, models.FeedbackIncorrect
	insert("v2", true, &correct)
	insert("v2", true, &incorrect)
	insert("v2", false, &correct)
	insert("v2", false, &incorrect)
	insert("v2", false, nil)
	insert("heuristic", true, nil)

	metrics, err := engine.ModelMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	assert.Equal(t, "heuristic", metrics[0].ModelVersion)
	assert.Equal(t, int64(1), metrics[0].TotalPredictions)
	assert.Nil(t, metrics[0].Accuracy)

	v2 := metrics[1]
	assert.Equal(t, "v2", v2.ModelVersion)
	assert.Equal(t, int64(5), v2.TotalPredictions)
	assert.Equal(t, int64(2), v2.PhishingPredictions)
	assert.Equal(t, int64(3), v2.SafePredictions)
	assert.Equal(t, [4]int64{1, 1, 1, 1}, [4]int64{v2.TruePositives, v2.FalsePositives, v2.TrueNegatives, v2.FalseNegatives})
	require.NotNil(t, v2.Accuracy)
	assert.Equal(t, 0.5, *v2.Accuracy)
	require.NotNil(t, v2.MaxLatencyMs)
	assert.Equal(t, int64(20), *v2.MaxLatencyMs)
}
