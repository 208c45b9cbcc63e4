package models

import (
	"encoding/json"
	"time"
)

// UserStatistics is the running aggregate kept per user in 'user_statistics'.
type UserStatistics struct {
	UserID               string     `db:"user_id" json:"user_id"`
	TotalScans           int64      `db:"total_scans" json:"total_scans"`
	PhishingDetected     int64      `db:"phishing_detected" json:"phishing_detected"`
	SafeMessages         int64      `db:"safe_messages" json:"safe_messages"`
	RiskScoreSum         float64    `db:"risk_score_sum" json:"-"`
	AverageRiskScore     float64    `db:"average_risk_score" json:"average_risk_score"`
	HighestRiskScore     float64    `db:"highest_risk_score" json:"highest_risk_score"`
	FirstScanDate        *time.Time `db:"first_scan_date" json:"first_scan_date"`
	LastScanDate         *time.Time `db:"last_scan_date" json:"last_scan_date"`
	FeedbackProvided     int64      `db:"feedback_provided" json:"feedback_provided"`
	CorrectPredictions   int64      `db:"correct_predictions" json:"correct_predictions"`
	IncorrectPredictions int64      `db:"incorrect_predictions" json:"incorrect_predictions"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
	Version              int64      `db:"version" json:"-"`
}

func (u UserStatistics) MarshalJSON() ([]byte, error) {
	type plain UserStatistics
	p := plain(u)
	p.AverageRiskScore = RoundRisk(u.AverageRiskScore)
	p.HighestRiskScore = RoundRisk(u.HighestRiskScore)
	return json.Marshal(p)
}
