package artifact

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/telemetry"
)

// Loader fetches the raw bundle document. It returns a ModelNotFound error
// when the bundle does not exist.
type Loader interface {
	Load(ctx context.Context) ([]byte, error)
	Origin() string
}

// Check is run against every parsed bundle before it is published.
type Check func(*Bundle) error

// Store holds the active bundle. Readers take one snapshot per request via
// Current and never observe a partially loaded bundle.
type Store struct {
	current atomic.Pointer[Bundle]
	loader  Loader
	checks  []Check
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewStore builds an empty store backed by loader.
func NewStore(loader Loader, logger *zap.Logger, checks ...Check) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{loader: loader, checks: checks, logger: logger}
}

// Current returns the active bundle, or nil before the first load.
func (s *Store) Current() *Bundle {
	return s.current.Load()
}

// Ready reports whether a bundle is loaded.
func (s *Store) Ready() bool {
	return s.current.Load() != nil
}

// Reload loads, parses and checks a fresh bundle and publishes it. On any
// failure the previously active bundle stays in place.
func (s *Store) Reload(ctx context.Context) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loader == nil {
		return nil, failure.New(failure.ModelNotFound, "artifact.reload", "no bundle source configured")
	}
	data, err := s.loader.Load(ctx)
	if err != nil {
		telemetry.ObserveBundleReload("error")
		return nil, err
	}
	b, err := Parse(data)
	if err != nil {
		telemetry.ObserveBundleReload("invalid")
		return nil, err
	}
	for _, check := range s.checks {
		if err := check(b); err != nil {
			telemetry.ObserveBundleReload("invalid")
			return nil, failure.Wrap(failure.TrainingData, "artifact.reload", fmt.Errorf("bundle %s: %w", b.Version, err))
		}
	}
	b.Origin = s.loader.Origin()

	prev := s.current.Swap(b)
	telemetry.ObserveBundleReload("ok")
	telemetry.SetActiveBundle(b.Version, b.Schema.Version)
	fields := []zap.Field{zap.String("version", b.Version), zap.String("origin", b.Origin), zap.Int("features", len(b.Schema.Fields))}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.Version))
	}
	s.logger.Info("artifact bundle loaded", fields...)
	return b, nil
}
