package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
)

// Model returns the probability that a message belongs to the phishing class.
// Implementations must be safe for concurrent use once constructed.
type Model interface {
	Version() string
	Predict(ctx context.Context, text string) (float64, error)
}

// tokenPattern matches runs of two or more Unicode letters, digits or
// underscores.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// LinearModel is a TF-IDF vectorizer followed by logistic regression,
// serialized as JSON.
type LinearModel struct {
	ModelVersion string         `json:"version"`
	Vocabulary   map[string]int `json:"vocabulary"`
	IDF          []float64      `json:"idf"`
	Coef         []float64      `json:"coef"`
	Intercept    float64        `json:"intercept"`
}

// LoadLinearModel reads and validates a model artifact.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model file: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *LinearModel) validate() error {
	if len(m.Vocabulary) == 0 {
		return fmt.Errorf("model has an empty vocabulary")
	}
	if len(m.IDF) != len(m.Coef) {
		return fmt.Errorf("model idf length %d does not match coef length %d", len(m.IDF), len(m.Coef))
	}
	for term, idx := range m.Vocabulary {
		if idx < 0 || idx >= len(m.Coef) {
			return fmt.Errorf("vocabulary term %q has out of range index %d", term, idx)
		}
	}
	return nil
}

func (m *LinearModel) Version() string {
	return m.ModelVersion
}

// Transform maps text to its L2-normalised TF-IDF vector, keyed by feature index.
// Terms outside the vocabulary are ignored.
func (m *LinearModel) Transform(text string) map[int]float64 {
	features := make(map[int]float64)
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if idx, ok := m.Vocabulary[token]; ok {
			features[idx]++
		}
	}

	var norm float64
	for idx, tf := range features {
		v := tf * m.IDF[idx]
		features[idx] = v
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range features {
			features[idx] /= norm
		}
	}
	return features
}

// PredictProbability applies the logistic regression to a transformed vector.
func (m *LinearModel) PredictProbability(features map[int]float64) float64 {
	z := m.Intercept
	for idx, v := range features {
		z += m.Coef[idx] * v
	}
	return 1 / (1 + math.Exp(-z))
}

func (m *LinearModel) Predict(_ context.Context, text string) (float64, error) {
	return m.PredictProbability(m.Transform(text)), nil
}
