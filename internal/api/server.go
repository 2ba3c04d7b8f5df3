package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/id/uuid"
	"github.com/alisufyan143/location-analyzer-v2/internal/pipeline"
	"github.com/alisufyan143/location-analyzer-v2/internal/telemetry"
)

// Currency is the symbol attached to every monetary response.
const Currency = "£"

const (
	maxBodyBytes    = 1 << 16
	notFoundMessage = "could not extract data for this location"
	internalMessage = "internal server error"
	notReadyMessage = "model bundle not loaded"
)

// Predictor runs predictions.
type Predictor interface {
	Predict(ctx context.Context, req pipeline.Request) (pipeline.Prediction, error)
	Ready() bool
}

// Options tune the HTTP layer.
type Options struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the prediction pipeline.
type Server struct {
	router    chi.Router
	predictor Predictor
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(predictor Predictor, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	s := &Server{
		predictor: predictor,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/predict", s.predict)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.predictor.Ready() {
		writeError(w, http.StatusServiceUnavailable, notReadyMessage)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type predictRequest struct {
	Postcode   string `json:"postcode"`
	BranchName string `json:"branch_name"`
}

// MonthlyForecast is one entry of a prediction's time series.
type MonthlyForecast struct {
	Date           string  `json:"date"`
	PredictedSales float64 `json:"predicted_sales"`
}

// PredictResponse is the body of a successful POST /v1/predict.
type PredictResponse struct {
	Postcode       string            `json:"postcode"`
	BranchName     string            `json:"branch_name,omitempty"`
	PredictedSales float64           `json:"predicted_sales"`
	Currency       string            `json:"currency"`
	Features       map[string]any    `json:"features"`
	TimeSeries     []MonthlyForecast `json:"time_series"`
	BundleVersion  string            `json:"bundle_version"`
	Imputed        []string          `json:"imputed,omitempty"`
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Postcode == "" {
		writeError(w, http.StatusBadRequest, "postcode required")
		return
	}

	pred, err := s.predictor.Predict(r.Context(), pipeline.Request{
		Postcode:   req.Postcode,
		BranchName: req.BranchName,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPredictResponse(pred))
}

// NewPredictResponse renders pred in the response layout, rounding money to pence.
func NewPredictResponse(pred pipeline.Prediction) PredictResponse {
	resp := PredictResponse{
		Postcode:       pred.Postcode,
		BranchName:     pred.BranchName,
		PredictedSales: round2(pred.Headline()),
		Currency:       Currency,
		Features:       pred.Features,
		TimeSeries:     make([]MonthlyForecast, 0, len(pred.Series)),
		BundleVersion:  pred.BundleVersion,
		Imputed:        pred.Imputed,
	}
	for _, p := range pred.Series {
		resp.TimeSeries = append(resp.TimeSeries, MonthlyForecast{
			Date:           p.Label,
			PredictedSales: round2(p.Value),
		})
	}
	return resp
}

// writeFailure maps a pipeline error to a status code. Internal details are
// logged but never returned to the caller.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	kind := failure.KindOf(err)
	logger := s.logger.With(
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("kind", kind.String()),
		zap.Error(err),
	)
	switch failure.DispositionOf(kind) {
	case failure.SurfaceClient:
		writeError(w, http.StatusBadRequest, clientMessage(err))
	case failure.SurfaceNotFound:
		logger.Info("location could not be analyzed")
		writeError(w, http.StatusNotFound, notFoundMessage)
	case failure.FatalToServing:
		logger.Error("prediction unavailable")
		if kind == failure.ModelNotFound {
			writeError(w, http.StatusServiceUnavailable, notReadyMessage)
			return
		}
		writeError(w, http.StatusInternalServerError, internalMessage)
	default:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			logger.Warn("prediction aborted")
		} else {
			logger.Error("prediction failed")
		}
		writeError(w, http.StatusInternalServerError, internalMessage)
	}
}

func clientMessage(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	return "invalid request"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if !uuid.Valid(reqID) {
			reqID = requestIDs.MustNewID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, internalMessage)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

var requestIDs = uuid.New()

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
