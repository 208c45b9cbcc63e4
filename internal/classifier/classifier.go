package classifier

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"phishguard/internal/models"
)

// MaxInputRunes bounds the text handed to a model.
const MaxInputRunes = 16 * 1024

const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"

	// HeuristicVersion is recorded as the model version of heuristic scans.
	HeuristicVersion = "heuristic"
)

// Result is the output of a single classification.
type Result struct {
	IsPhishing   bool
	RiskScore    float64
	Confidence   models.Confidence
	LatencyMs    int64
	ModelVersion string
	Source       string
}

// Classifier scores messages with an optional model and a keyword fallback.
// It holds no mutable state and may be shared by any number of goroutines.
type Classifier struct {
	model  Model
	logger *zap.Logger
}

// New creates a classifier. A nil model selects heuristic mode.
func New(model Model, logger *zap.Logger) *Classifier {
	return &Classifier{model: model, logger: logger}
}

// ModelLoaded reports whether a model backs this classifier.
func (c *Classifier) ModelLoaded() bool {
	return c.model != nil
}

// ModelVersion is the version of the loaded model, or HeuristicVersion.
func (c *Classifier) ModelVersion() string {
	if c.model == nil {
		return HeuristicVersion
	}
	return c.model.Version()
}

// Classify scores text. It never fails: when the model cannot answer, the
// heuristic answers instead.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	start := time.Now()

	var result Result
	if c.model != nil {
		score, err := c.model.Predict(ctx, truncate(text))
		if err == nil && !math.IsNaN(score) {
			result = fromModel(clamp(score), c.model.Version())
		} else {
			c.logger.Warn("Model prediction failed, using heuristic", zap.Error(err))
			result = fromHeuristic(text)
		}
	} else {
		result = fromHeuristic(text)
	}

	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

func fromModel(score float64, version string) Result {
	return Result{
		IsPhishing:   IsPhishing(score),
		RiskScore:    score,
		Confidence:   ModelConfidence(score),
		ModelVersion: version,
		Source:       SourceModel,
	}
}

func fromHeuristic(text string) Result {
	score := HeuristicScore(text)
	return Result{
		IsPhishing:   IsPhishing(score),
		RiskScore:    score,
		Confidence:   HeuristicConfidence(score),
		ModelVersion: HeuristicVersion,
		Source:       SourceHeuristic,
	}
}

func truncate(text string) string {
	if len(text) <= MaxInputRunes {
		return text
	}
	runes := []rune(text)
	if len(runes) <= MaxInputRunes {
		return text
	}
	return string(runes[:MaxInputRunes])
}

func clamp(score float64) float64 {
	return math.Min(1, math.Max(0, score))
}
