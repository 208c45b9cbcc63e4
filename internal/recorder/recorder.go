package recorder

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"phishguard/internal/classifier"
	"phishguard/internal/fingerprint"
	"phishguard/internal/models"
	"phishguard/internal/repository"
)

// MaxUserAgentLength bounds the stored user agent, in characters.
const MaxUserAgentLength = 200

// Input carries the request-side fields of a scan.
type Input struct {
	Text      string
	UserID    string
	DeviceID  string
	IPAddress string
	UserAgent string
}

// Recorder turns classification results into persisted scan records.
type Recorder struct {
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

func New(logger *zap.Logger) *Recorder {
	return &Recorder{logger: logger, now: time.Now}
}

// Record builds a ScanRecord for input and result and inserts it through db,
// which may be a transaction. The returned record carries the assigned ID.
func (r *Recorder) Record(ctx context.Context, db repository.DBTX, input Input, result classifier.Result) (*models.ScanRecord, error) {
	latency := result.LatencyMs
	scan := &models.ScanRecord{
		UserID:           optional(input.UserID),
		DeviceID:         optional(input.DeviceID),
		MessageText:      input.Text,
		MessageHash:      fingerprint.Of(input.Text),
		IsPhishing:       result.IsPhishing,
		RiskScore:        result.RiskScore,
		ConfidenceLevel:  result.Confidence,
		ModelVersion:     result.ModelVersion,
		PredictionTimeMs: &latency,
		CreatedAt:        r.timestamp(),
		IPAddress:        optional(input.IPAddress),
		UserAgent:        optional(truncate(input.UserAgent, MaxUserAgentLength)),
	}

	if err := repository.NewScanRepository(db, r.logger).Insert(ctx, scan); err != nil {
		return nil, err
	}

	r.logger.Debug("Scan recorded",
		zap.Int64("scan_id", scan.ID),
		zap.Bool("is_phishing", scan.IsPhishing),
		zap.Float64("risk_score", scan.RiskScore),
		zap.String("model_version", scan.ModelVersion))
	return scan, nil
}

// timestamp returns the current UTC time, never earlier than the previous one.
func (r *Recorder) timestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	return now
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
