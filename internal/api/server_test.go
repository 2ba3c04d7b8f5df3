package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/forecast"
	"github.com/alisufyan143/location-analyzer-v2/internal/pipeline"
)

func TestServer_Predict_Succeeds(t *testing.T) {
	t.Parallel()

	predictor := &fakePredictor{ready: true, pred: samplePrediction()}
	server := NewServer(predictor, Options{}, zap.NewNop())

	reqBody := []byte(`{"postcode":"m1 1af","branch_name":"Piccadilly"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "M1 1AF", resp.Postcode)
	require.Equal(t, "Piccadilly", resp.BranchName)
	require.Equal(t, "£", resp.Currency)
	require.Equal(t, 12100.46, resp.PredictedSales)
	require.Len(t, resp.TimeSeries, 12)
	require.Equal(t, "Nov 2026", resp.TimeSeries[0].Date)
	require.Equal(t, resp.PredictedSales, resp.TimeSeries[0].PredictedSales)
	require.Equal(t, 14780.11, resp.TimeSeries[1].PredictedSales)
	require.Equal(t, "2025.11-median-ensemble", resp.BundleVersion)
	require.EqualValues(t, 23405, resp.Features["population"])

	got := predictor.lastRequest()
	require.Equal(t, "m1 1af", got.Postcode)
	require.Equal(t, "Piccadilly", got.BranchName)
}

func TestServer_Predict_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing postcode", `{"branch_name":"x"}`, "postcode required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			predictor := &fakePredictor{ready: true}
			server := NewServer(predictor, Options{}, zap.NewNop())
			req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Equal(t, 0, predictor.callCount())
		})
	}
}

func TestServer_Predict_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
		hiddenBody string
	}{
		{
			name:       "invalid postcode",
			err:        failure.New(failure.InvalidPostcode, "postcode.parse", "not a UK postcode"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "not a UK postcode",
		},
		{
			name:       "fallback exhausted",
			err:        failure.New(failure.ScraperFallbackExhausted, "acquisition.acquire", "demographics: all agents failed"),
			wantStatus: http.StatusNotFound,
			wantBody:   notFoundMessage,
			hiddenBody: "demographics",
		},
		{
			name:       "model missing",
			err:        failure.New(failure.ModelNotFound, "pipeline.predict", "no artifact bundle loaded"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   notReadyMessage,
		},
		{
			name:       "corrupt bundle",
			err:        failure.New(failure.TrainingData, "forecast", "prediction count mismatch"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   internalMessage,
			hiddenBody: "mismatch",
		},
		{
			name:       "feature engineering",
			err:        failure.New(failure.FeatureEngineering, "preprocess.apply", "field population never produced"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   internalMessage,
			hiddenBody: "population",
		},
		{
			name:       "untagged",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   internalMessage,
			hiddenBody: "boom",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := NewServer(&fakePredictor{ready: true, err: tt.err}, Options{}, zap.NewNop())
			req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewBufferString(`{"postcode":"M1 1AF"}`))
			rec := httptest.NewRecorder()

			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			require.Contains(t, rec.Body.String(), tt.wantBody)
			if tt.hiddenBody != "" {
				require.NotContains(t, rec.Body.String(), tt.hiddenBody)
			}
		})
	}
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	predictor := &fakePredictor{}
	server := NewServer(predictor, Options{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	predictor.setReady(true)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ready")
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewServer(&fakePredictor{}, Options{}, zap.NewNop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	predictor := &fakePredictor{ready: true, pred: samplePrediction()}
	server := NewServer(predictor, Options{AuthEnabled: true, APIKey: "secret"}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewBufferString(`{"postcode":"M1 1AF"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewBufferString(`{"postcode":"M1 1AF"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/predict?api_key=secret", bytes.NewBufferString(`{"postcode":"M1 1AF"}`))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// probes are not behind the key
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakePredictor{ready: true, panicMsg: "kaboom"}, Options{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewBufferString(`{"postcode":"M1 1AF"}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "kaboom")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewServer(&fakePredictor{}, Options{}, zap.NewNop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakePredictor{}, Options{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	upstream := "0190c1a2-0000-7000-8000-000000000001"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", upstream)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, upstream, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "forged-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.NotEqual(t, "forged-id", rec.Header().Get("X-Request-ID"))
	require.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestRound2(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.23, round2(1.234))
	require.Equal(t, 1.24, round2(1.235001))
	require.Equal(t, 0.0, round2(0))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func samplePrediction() pipeline.Prediction {
	start := time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC)
	series := make(forecast.Series, 12)
	for i := range series {
		d := start.AddDate(0, i, 0)
		series[i] = forecast.Point{Date: d, Label: d.Format("Jan 2006"), Value: 12100.4567}
	}
	series[1].Value = 14780.1149
	return pipeline.Prediction{
		Postcode:      "M1 1AF",
		BranchName:    "Piccadilly",
		BundleVersion: "2025.11-median-ensemble",
		Features:      map[string]any{"population": 23405, "Nearest_Station_Type": "Train"},
		Series:        series,
		GeneratedAt:   start,
	}
}

type fakePredictor struct {
	mu       sync.Mutex
	ready    bool
	pred     pipeline.Prediction
	err      error
	panicMsg string
	calls    int
	last     pipeline.Request
}

func (f *fakePredictor) Predict(_ context.Context, req pipeline.Request) (pipeline.Prediction, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return pipeline.Prediction{}, f.err
	}
	return f.pred, nil
}

func (f *fakePredictor) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakePredictor) setReady(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = v
}

func (f *fakePredictor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePredictor) lastRequest() pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
