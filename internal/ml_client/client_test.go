package ml_client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModelService(t *testing.T, loaded bool, probability float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok", ModelLoaded: loaded, ModelVersion: "svc-2.1"})
	})
	mux.HandleFunc("/api/v1/predict", func(w http.ResponseWriter, r *http.Request) {
		var req PredictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(PredictResponse{Probability: probability, ModelVersion: "svc-2.1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectAndPredict(t *testing.T) {
	srv := newModelService(t, true, 0.91)
	client := NewClient(srv.URL, time.Second)

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, "svc-2.1", client.Version())

	p, err := client.Predict(context.Background(), "verify your account")
	require.NoError(t, err)
	assert.InDelta(t, 0.91, p, 1e-12)
}

func TestConnectFailsWithoutModel(t *testing.T) {
	srv := newModelService(t, false, 0)
	client := NewClient(srv.URL, time.Second)

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model loaded")
}

func TestPredictRejectsOutOfRangeProbability(t *testing.T) {
	srv := newModelService(t, true, 1.5)
	client := NewClient(srv.URL, time.Second)

	_, err := client.Predict(context.Background(), "hello")
	require.Error(t, err)
}

func TestPredictReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Predict(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
