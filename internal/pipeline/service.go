// Package pipeline runs one prediction end to end: postcode validation,
// acquisition, feature mapping, preprocessing, month synthesis, scoring and
// event publication.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/acquisition"
	"github.com/alisufyan143/location-analyzer-v2/internal/artifact"
	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/features"
	"github.com/alisufyan143/location-analyzer-v2/internal/forecast"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
	"github.com/alisufyan143/location-analyzer-v2/internal/preprocess"
	"github.com/alisufyan143/location-analyzer-v2/internal/telemetry"
	"github.com/alisufyan143/location-analyzer-v2/internal/timeseries"
)

// EventForecastCompleted is published after every successful prediction.
const EventForecastCompleted = "forecast.completed"

// Acquirer gathers merged attributes for a postcode.
type Acquirer interface {
	Acquire(ctx context.Context, pc postcode.Postcode) (acquisition.Merged, error)
}

// Bundles returns the active artifact bundle, or nil when none is loaded.
type Bundles interface {
	Current() *artifact.Bundle
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// IDGenerator creates event identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Request is one prediction request.
type Request struct {
	Postcode   string
	BranchName string
}

// Prediction is the result of a successful run.
type Prediction struct {
	Postcode      string
	BranchName    string
	BundleVersion string
	Features      map[string]any
	Series        forecast.Series
	Imputed       []string
	GeneratedAt   time.Time
}

// Headline is the first forecast month's value.
func (p Prediction) Headline() float64 { return p.Series.Headline() }

// Event is the payload of EventForecastCompleted.
type Event struct {
	EventID       string    `json:"event_id"`
	Postcode      string    `json:"postcode"`
	BranchName    string    `json:"branch_name,omitempty"`
	BundleVersion string    `json:"bundle_version"`
	Headline      float64   `json:"headline"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Deps are the collaborators of a Service.
type Deps struct {
	Acquirer  Acquirer
	Bundles   Bundles
	Engine    *preprocess.Engine
	Publisher Publisher
	IDs       IDGenerator
	Clock     Clock
	Logger    *zap.Logger
}

// Service runs predictions.
type Service struct {
	deps Deps
}

// New validates deps and builds a Service. Publisher and IDs are optional.
func New(deps Deps) (*Service, error) {
	if deps.Acquirer == nil {
		return nil, errors.New("acquirer is required")
	}
	if deps.Bundles == nil {
		return nil, errors.New("bundle store is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.Engine == nil {
		deps.Engine = preprocess.New(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{deps: deps}, nil
}

// Ready reports whether a bundle is loaded.
func (s *Service) Ready() bool {
	return s.deps.Bundles.Current() != nil
}

// Predict runs the pipeline for req. The bundle is snapshotted once, so a
// concurrent reload never mixes versions within one prediction.
func (s *Service) Predict(ctx context.Context, req Request) (Prediction, error) {
	start := time.Now()
	pred, err := s.predict(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = failure.KindOf(err).String()
	}
	telemetry.ObservePrediction(outcome, time.Since(start))
	return pred, err
}

func (s *Service) predict(ctx context.Context, req Request) (Prediction, error) {
	pc, err := postcode.Parse(req.Postcode)
	if err != nil {
		return Prediction{}, err
	}
	bundle := s.deps.Bundles.Current()
	if bundle == nil {
		return Prediction{}, failure.New(failure.ModelNotFound, "pipeline.predict", "no artifact bundle loaded")
	}
	logger := s.deps.Logger.With(zap.String("postcode", pc.String()), zap.String("bundle", bundle.Version))

	merged, err := s.deps.Acquirer.Acquire(ctx, pc)
	if err != nil {
		logger.Info("acquisition failed", zap.Error(err))
		return Prediction{}, err
	}
	base, err := features.Map(merged)
	if err != nil {
		return Prediction{}, err
	}
	base.BranchName = req.BranchName

	now := s.deps.Clock.Now()
	vec, err := s.deps.Engine.Apply(bundle, base, now)
	if err != nil {
		return Prediction{}, err
	}
	series, err := forecast.Forecast(bundle, timeseries.Months(vec, now))
	if err != nil {
		return Prediction{}, err
	}

	pred := Prediction{
		Postcode:      pc.String(),
		BranchName:    req.BranchName,
		BundleVersion: bundle.Version,
		Features:      base.Display(),
		Series:        series,
		Imputed:       base.Imputed,
		GeneratedAt:   now,
	}
	logger.Info("prediction complete",
		zap.Float64("headline", pred.Headline()),
		zap.Strings("imputed", pred.Imputed),
		zap.Strings("cached", merged.Cached),
	)
	s.publish(ctx, pred, logger)
	return pred, nil
}

// publish emits the completion event. Failures are logged only.
func (s *Service) publish(ctx context.Context, pred Prediction, logger *zap.Logger) {
	if s.deps.Publisher == nil {
		return
	}
	ev := Event{
		Postcode:      pred.Postcode,
		BranchName:    pred.BranchName,
		BundleVersion: pred.BundleVersion,
		Headline:      pred.Headline(),
		GeneratedAt:   pred.GeneratedAt,
	}
	if s.deps.IDs != nil {
		id, err := s.deps.IDs.NewID()
		if err != nil {
			logger.Warn("event id generation failed", zap.Error(err))
		}
		ev.EventID = id
	}
	if _, err := s.deps.Publisher.Publish(ctx, EventForecastCompleted, ev); err != nil {
		logger.Warn("publish forecast event failed", zap.String("event", EventForecastCompleted), zap.Error(err))
	}
}
