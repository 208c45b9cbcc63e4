package analytics

import (
	"fmt"
	"math"
	"time"

	"phishguard/internal/models"
	"phishguard/internal/repository"
)

// Bounds on the size of a single report.
const (
	MaxBins       = 1000
	MaxWindowDays = 365
)

var (
	ErrInvalidBins   = fmt.Errorf("bins must be between 1 and %d", MaxBins)
	ErrInvalidWindow = fmt.Errorf("days must be between 1 and %d", MaxWindowDays)
)

const dateLayout = "2006-01-02"

type HourBucket struct {
	Hour          int   `json:"hour"`
	ScanCount     int64 `json:"scan_count"`
	PhishingCount int64 `json:"phishing_count"`
}

type DayBucket struct {
	Date          string  `json:"date"`
	TotalScans    int64   `json:"total_scans"`
	PhishingCount int64   `json:"phishing_count"`
	PhishingRate  float64 `json:"phishing_rate"`
}

type HistogramBin struct {
	Range string  `json:"range"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int64   `json:"count"`
}

// AccuracyReport summarises feedback. Accuracy is nil when no CORRECT or
// INCORRECT feedback exists.
type AccuracyReport struct {
	TotalFeedback        int64    `json:"total_feedback"`
	CorrectPredictions   int64    `json:"correct_predictions"`
	IncorrectPredictions int64    `json:"incorrect_predictions"`
	UnsureFeedback       int64    `json:"unsure_feedback"`
	Accuracy             *float64 `json:"accuracy"`
	Message              string   `json:"message,omitempty"`
}

type LatencyReport struct {
	TotalPredictions int64    `json:"total_predictions"`
	AverageMs        *float64 `json:"average_ms"`
	MinMs            *int64   `json:"min_ms"`
	MaxMs            *int64   `json:"max_ms"`
}

// ModelMetrics is the confusion matrix of one model version as judged by
// feedback. Precision, Recall, F1Score and Accuracy are ratios in [0, 1],
// nil while their denominators are zero.
type ModelMetrics struct {
	ModelVersion        string   `json:"model_version"`
	TotalPredictions    int64    `json:"total_predictions"`
	PhishingPredictions int64    `json:"phishing_predictions"`
	SafePredictions     int64    `json:"safe_predictions"`
	TruePositives       int64    `json:"true_positives"`
	FalsePositives      int64    `json:"false_positives"`
	TrueNegatives       int64    `json:"true_negatives"`
	FalseNegatives      int64    `json:"false_negatives"`
	UnsureFeedback      int64    `json:"unsure_feedback"`
	Precision           *float64 `json:"precision"`
	Recall              *float64 `json:"recall"`
	F1Score             *float64 `json:"f1_score"`
	Accuracy            *float64 `json:"accuracy"`
	AverageLatencyMs    *float64 `json:"average_inference_time_ms"`
	MinLatencyMs        *int64   `json:"min_inference_time_ms"`
	MaxLatencyMs        *int64   `json:"max_inference_time_ms"`
}

type Dashboard struct {
	TotalScans       int64     `json:"total_scans"`
	PhishingDetected int64     `json:"phishing_detected"`
	SafeMessages     int64     `json:"safe_messages"`
	PhishingRate     float64   `json:"phishing_rate"`
	AverageRiskScore float64   `json:"average_risk_score"`
	ScansLast24h     int64     `json:"scans_last_24h"`
	TotalUsers       int64     `json:"total_users"`
	AverageLatencyMs float64   `json:"average_inference_time_ms"`
	ModelVersion     string    `json:"model_version"`
	Timestamp        time.Time `json:"timestamp"`
}

// HourlyVolume counts points per UTC hour of day. All 24 hours are present.
func HourlyVolume(points []models.ScanPoint) []HourBucket {
	buckets := make([]HourBucket, 24)
	for h := range buckets {
		buckets[h].Hour = h
	}
	for _, p := range points {
		b := &buckets[p.CreatedAt.UTC().Hour()]
		b.ScanCount++
		if p.IsPhishing {
			b.PhishingCount++
		}
	}
	return buckets
}

// DailyTrend counts points per UTC calendar day from the day of start through
// the day of end, including days with no scans.
func DailyTrend(points []models.ScanPoint, start, end time.Time) []DayBucket {
	first := truncateDay(start)
	last := truncateDay(end)
	if last.Before(first) {
		return []DayBucket{}
	}

	index := make(map[string]int)
	var buckets []DayBucket
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		index[key] = len(buckets)
		buckets = append(buckets, DayBucket{Date: key})
	}

	for _, p := range points {
		i, ok := index[p.CreatedAt.UTC().Format(dateLayout)]
		if !ok {
			continue
		}
		buckets[i].TotalScans++
		if p.IsPhishing {
			buckets[i].PhishingCount++
		}
	}

	for i := range buckets {
		buckets[i].PhishingRate = rate(buckets[i].PhishingCount, buckets[i].TotalScans)
	}
	return buckets
}

// RiskHistogram partitions [0,1] into equal-width [lower, upper) bins, the
// last bin closed on the right. Counts sum to len(scores). bins must be
// within [1, MaxBins].
func RiskHistogram(scores []float64, bins int) ([]HistogramBin, error) {
	if bins < 1 || bins > MaxBins {
		return nil, fmt.Errorf("%d: %w", bins, ErrInvalidBins)
	}

	hist := make([]HistogramBin, bins)
	for i := range hist {
		lower, upper := binEdge(i, bins), binEdge(i+1, bins)
		hist[i] = HistogramBin{
			Range: fmt.Sprintf("%.2f-%.2f", lower, upper),
			Lower: lower,
			Upper: upper,
		}
	}

	for _, s := range scores {
		hist[binIndex(s, bins)].Count++
	}
	return hist, nil
}

func binEdge(i, bins int) float64 {
	return float64(i) / float64(bins)
}

func binIndex(score float64, bins int) int {
	i := int(math.Floor(score * float64(bins)))
	if i < 0 {
		return 0
	}
	if i >= bins {
		return bins - 1
	}
	// score*bins can round across an edge; settle against the stored edges.
	if i > 0 && score < binEdge(i, bins) {
		i--
	} else if i < bins-1 && score >= binEdge(i+1, bins) {
		i++
	}
	return i
}

// Accuracy derives prediction accuracy from feedback counts.
func Accuracy(counts repository.FeedbackCounts) AccuracyReport {
	report := AccuracyReport{
		TotalFeedback:        counts.Total,
		CorrectPredictions:   counts.Correct,
		IncorrectPredictions: counts.Incorrect,
		UnsureFeedback:       counts.Unsure,
	}
	judged := counts.Correct + counts.Incorrect
	if judged == 0 {
		report.Message = "No feedback data available"
		return report
	}
	acc := models.Round(float64(counts.Correct)/float64(judged)*100, 2)
	report.Accuracy = &acc
	return report
}

// ModelMetricsFor derives precision, recall, F1 and accuracy for one model version.
func ModelMetricsFor(f repository.ModelFeedback) ModelMetrics {
	m := ModelMetrics{
		ModelVersion:        f.ModelVersion,
		TotalPredictions:    f.TotalPredictions,
		PhishingPredictions: f.PhishingPredictions,
		SafePredictions:     f.TotalPredictions - f.PhishingPredictions,
		TruePositives:       f.TruePositives,
		FalsePositives:      f.FalsePositives,
		TrueNegatives:       f.TrueNegatives,
		FalseNegatives:      f.FalseNegatives,
		UnsureFeedback:      f.Unsure,
		MinLatencyMs:        f.MinLatencyMs,
		MaxLatencyMs:        f.MaxLatencyMs,
	}
	if f.AvgLatencyMs != nil {
		avg := models.Round(*f.AvgLatencyMs, 2)
		m.AverageLatencyMs = &avg
	}

	m.Precision = ratio(f.TruePositives, f.TruePositives+f.FalsePositives)
	m.Recall = ratio(f.TruePositives, f.TruePositives+f.FalseNegatives)
	m.Accuracy = ratio(f.TruePositives+f.TrueNegatives,
		f.TruePositives+f.TrueNegatives+f.FalsePositives+f.FalseNegatives)
	if m.Precision != nil && m.Recall != nil && *m.Precision+*m.Recall > 0 {
		f1 := models.RoundRisk(2 * *m.Precision * *m.Recall / (*m.Precision + *m.Recall))
		m.F1Score = &f1
	}
	return m
}

func ratio(part, total int64) *float64 {
	if total == 0 {
		return nil
	}
	r := models.RoundRisk(float64(part) / float64(total))
	return &r
}

func Latency(summary repository.LatencySummary) LatencyReport {
	report := LatencyReport{TotalPredictions: summary.Count}
	if summary.Count == 0 {
		return report
	}
	if summary.Avg != nil {
		avg := models.Round(*summary.Avg, 2)
		report.AverageMs = &avg
	}
	report.MinMs = summary.Min
	report.MaxMs = summary.Max
	return report
}

// rate returns part/total as a percentage rounded to 2 decimals, 0 for an
// empty total.
func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return models.Round(float64(part)/float64(total)*100, 2)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
