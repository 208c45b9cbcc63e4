package ml_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the phishing model service API
type Client struct {
	baseURL    string
	httpClient *http.Client
	version    string
}

// PredictRequest represents a single message prediction request
type PredictRequest struct {
	Text string `json:"text"`
}

// PredictResponse represents the probability of the phishing class
type PredictResponse struct {
	Probability      float64 `json:"probability"`
	ModelVersion     string  `json:"model_version"`
	ProcessingTimeMs float64 `json:"processing_time_ms,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelVersion string `json:"model_version"`
	Message      string `json:"message"`
}

// NewClient creates a new model service client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Connect checks the service once and pins the reported model version.
// It returns an error when the service is unreachable or has no model.
func (c *Client) Connect(ctx context.Context) error {
	health, err := c.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if !health.ModelLoaded {
		return fmt.Errorf("model service reports no model loaded: %s", health.Message)
	}
	c.version = health.ModelVersion
	return nil
}

// Version returns the model version reported at Connect.
func (c *Client) Version() string {
	return c.version
}

// Predict returns the phishing probability for text.
func (c *Client) Predict(ctx context.Context, text string) (float64, error) {
	resp, err := c.PredictSingle(ctx, text)
	if err != nil {
		return 0, err
	}
	if resp.Probability < 0 || resp.Probability > 1 {
		return 0, fmt.Errorf("model service returned probability %v outside [0,1]", resp.Probability)
	}
	return resp.Probability, nil
}

// PredictSingle classifies a single message
func (c *Client) PredictSingle(ctx context.Context, text string) (*PredictResponse, error) {
	jsonData, err := json.Marshal(PredictRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/predict", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result PredictResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the model service is healthy
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result HealthResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("model service returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
