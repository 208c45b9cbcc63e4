package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishguard_scans_total",
		Help: "Total number of messages scanned",
	}, []string{"source", "verdict"})
	ScanLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phishguard_scan_latency_milliseconds",
		Help:    "Classification latency in milliseconds",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
	FeedbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishguard_feedback_total",
		Help: "Total number of feedback submissions",
	}, []string{"kind"})
	StatisticsConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phishguard_statistics_conflicts_total",
		Help: "Total number of lost compare-and-swap races on user statistics",
	})
	SweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishguard_sweep_runs_total",
		Help: "Total number of data lifecycle sweeps executed",
	}, []string{"sweep", "result"})
	SweepAffected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishguard_sweep_affected_rows_total",
		Help: "Total number of scan rows deleted or anonymized by sweeps",
	}, []string{"sweep"})
)

func init() {
	prometheus.MustRegister(ScansTotal, ScanLatency, FeedbackTotal, StatisticsConflicts, SweepRuns, SweepAffected)
}

// Verdict labels a scan for ScansTotal.
func Verdict(isPhishing bool) string {
	if isPhishing {
		return "phishing"
	}
	return "safe"
}
