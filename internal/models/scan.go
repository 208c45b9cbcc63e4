package models

import (
	"encoding/json"
	"math"
	"time"
)

// Confidence is the coarse distance of a risk score from the decision boundary.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Feedback is a user's verdict on a prediction.
type Feedback string

const (
	FeedbackCorrect   Feedback = "CORRECT"
	FeedbackIncorrect Feedback = "INCORRECT"
	FeedbackUnsure    Feedback = "UNSURE"
)

// ParseFeedback returns the Feedback for s and whether it is one of the known kinds.
func ParseFeedback(s string) (Feedback, bool) {
	switch f := Feedback(s); f {
	case FeedbackCorrect, FeedbackIncorrect, FeedbackUnsure:
		return f, true
	}
	return "", false
}

// ScanRecord represents a row of the 'scan_history' table.
// Only UserFeedback and FeedbackTimestamp change after the insert.
type ScanRecord struct {
	ID                int64      `db:"id" json:"id"`
	UserID            *string    `db:"user_id" json:"user_id"`
	DeviceID          *string    `db:"device_id" json:"device_id"`
	MessageText       string     `db:"message_text" json:"message_text"`
	MessageHash       string     `db:"message_hash" json:"message_hash"`
	IsPhishing        bool       `db:"is_phishing" json:"is_phishing"`
	RiskScore         float64    `db:"risk_score" json:"risk_score"` // full precision, rounded only in JSON
	ConfidenceLevel   Confidence `db:"confidence_level" json:"confidence_level"`
	ModelVersion      string     `db:"model_version" json:"model_version"`
	PredictionTimeMs  *int64     `db:"prediction_time_ms" json:"prediction_time_ms"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UserFeedback      *Feedback  `db:"user_feedback" json:"user_feedback"`
	FeedbackTimestamp *time.Time `db:"feedback_timestamp" json:"feedback_timestamp"`
	IPAddress         *string    `db:"ip_address" json:"-"`
	UserAgent         *string    `db:"user_agent" json:"-"`
}

// MarshalJSON rounds the risk score for presentation without touching the stored value.
func (s ScanRecord) MarshalJSON() ([]byte, error) {
	type plain ScanRecord
	p := plain(s)
	p.RiskScore = RoundRisk(s.RiskScore)
	return json.Marshal(p)
}

// RoundRisk rounds a score to the 4 decimals shown to callers.
func RoundRisk(score float64) float64 {
	return Round(score, 4)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ScanPoint is the projection of a scan used for time bucketing.
type ScanPoint struct {
	CreatedAt  time.Time `db:"created_at"`
	IsPhishing bool      `db:"is_phishing"`
	RiskScore  float64   `db:"risk_score"`
}

// DuplicateGroup is a set of scans sharing a message fingerprint.
type DuplicateGroup struct {
	MessageHash string    `db:"message_hash" json:"message_hash"`
	Count       int64     `db:"count" json:"count"`
	FirstScan   time.Time `db:"first_scan" json:"first_scan"`
}
