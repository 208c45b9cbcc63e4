package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"phishguard/internal/analytics"
	"phishguard/internal/models"
)

type report struct {
	Dashboard analytics.Dashboard
	Trend     []analytics.DayBucket
	Histogram []analytics.HistogramBin
	Accuracy  analytics.AccuracyReport
	Latency   analytics.LatencyReport
	TopUsers  []*models.UserStatistics
}

func buildReport(ctx context.Context, engine *analytics.Engine, days, bins, top int) (*report, error) {
	var (
		r   report
		err error
	)
	if r.Dashboard, err = engine.Dashboard(ctx); err != nil {
		return nil, err
	}
	if r.Trend, err = engine.DailyTrend(ctx, days); err != nil {
		return nil, err
	}
	if r.Histogram, err = engine.RiskHistogram(ctx, bins); err != nil {
		return nil, err
	}
	if r.Accuracy, err = engine.Accuracy(ctx); err != nil {
		return nil, err
	}
	if r.Latency, err = engine.Latency(ctx); err != nil {
		return nil, err
	}
	if r.TopUsers, err = engine.TopUsers(ctx, top); err != nil {
		return nil, err
	}
	return &r, nil
}

func printReport(w io.Writer, r *report) {
	d := r.Dashboard
	fmt.Fprintln(w, headerColor("PhishGuard analytics"))
	fmt.Fprintln(w, "---------------------------------")
	fmt.Fprintf(w, "Model version:      %s\n", d.ModelVersion)
	fmt.Fprintf(w, "Total scans:        %d (%d in last 24h)\n", d.TotalScans, d.ScansLast24h)
	fmt.Fprintf(w, "Phishing detected:  %s (%.2f%%)\n", warningColor(d.PhishingDetected), d.PhishingRate)
	fmt.Fprintf(w, "Safe messages:      %s\n", successColor(d.SafeMessages))
	fmt.Fprintf(w, "Average risk score: %.4f\n", d.AverageRiskScore)
	fmt.Fprintf(w, "Users:              %d\n", d.TotalUsers)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerColor("Feedback accuracy"))
	if r.Accuracy.Accuracy == nil {
		fmt.Fprintln(w, "  no feedback data")
	} else {
		fmt.Fprintf(w, "  %.2f%% (%d correct, %d incorrect, %d unsure)\n", *r.Accuracy.Accuracy,
			r.Accuracy.CorrectPredictions, r.Accuracy.IncorrectPredictions, r.Accuracy.UnsureFeedback)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerColor("Inference latency"))
	if r.Latency.TotalPredictions == 0 {
		fmt.Fprintln(w, "  no predictions recorded")
	} else {
		fmt.Fprintf(w, "  avg %.2f ms, min %d ms, max %d ms over %d predictions\n",
			*r.Latency.AverageMs, *r.Latency.MinMs, *r.Latency.MaxMs, r.Latency.TotalPredictions)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerColor("Daily trend"))
	for _, day := range r.Trend {
		fmt.Fprintf(w, "  %s  %5d scans  %5d phishing  %6.2f%%\n", day.Date, day.TotalScans, day.PhishingCount, day.PhishingRate)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerColor("Risk distribution"))
	var peak int64
	for _, bin := range r.Histogram {
		if bin.Count > peak {
			peak = bin.Count
		}
	}
	for _, bin := range r.Histogram {
		fmt.Fprintf(w, "  %s  %6d %s\n", bin.Range, bin.Count, bar(bin.Count, peak, 30))
	}

	if len(r.TopUsers) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerColor("Top users"))
		for _, u := range r.TopUsers {
			fmt.Fprintf(w, "  %-20s %5d scans  avg risk %.4f\n", u.UserID, u.TotalScans, models.RoundRisk(u.AverageRiskScore))
		}
	}
}

func bar(count, peak int64, width int) string {
	if peak == 0 {
		return ""
	}
	return infoColor(strings.Repeat("#", int(count*int64(width)/peak)))
}
