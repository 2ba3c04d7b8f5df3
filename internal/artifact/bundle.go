// Package artifact loads the frozen model bundle: the feature schema, the
// fitted transform parameters and the regression ensemble. A loaded bundle
// is immutable and shared by every request.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/hash/sha256"
)

// Schema is the ordered list of model input features.
type Schema struct {
	Version string   `json:"version"`
	Fields  []string `json:"fields"`
}

// CapRule clamps a field to [Lower, Upper]. Either bound may be absent.
type CapRule struct {
	Field string   `json:"field"`
	Lower *float64 `json:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty"`
}

// QuantileRule maps a field through frozen quantiles onto references.
type QuantileRule struct {
	Field      string    `json:"field"`
	Output     string    `json:"output"`
	Quantiles  []float64 `json:"quantiles"`
	References []float64 `json:"references"`
}

// KBinsRule discretizes a field using frozen bin edges.
type KBinsRule struct {
	Field  string    `json:"field"`
	Output string    `json:"output"`
	Edges  []float64 `json:"edges"`
}

// YeoJohnsonRule applies the Yeo-Johnson power transform. When Mean and Std
// are set the result is also standardized.
type YeoJohnsonRule struct {
	Field  string   `json:"field"`
	Lambda float64  `json:"lambda"`
	Mean   *float64 `json:"mean,omitempty"`
	Std    *float64 `json:"std,omitempty"`
}

// RobustRule scales a field as (x - Center) / Scale.
type RobustRule struct {
	Field  string  `json:"field"`
	Center float64 `json:"center"`
	Scale  float64 `json:"scale"`
}

// MissingFlag emits Output = 1 when Field is missing, else 0.
type MissingFlag struct {
	Field  string `json:"field"`
	Output string `json:"output"`
}

// OrdinalRule encodes a categorical field by its position in Categories.
// Unseen categories encode as UnknownValue.
type OrdinalRule struct {
	Field        string   `json:"field"`
	Categories   []string `json:"categories"`
	UnknownValue float64  `json:"unknown_value"`
}

// Transforms holds every frozen preprocessing parameter.
type Transforms struct {
	Capping      []CapRule          `json:"capping"`
	Log1p        []string           `json:"log1p"`
	Sqrt         []string           `json:"sqrt"`
	Quantile     []QuantileRule     `json:"quantile"`
	KBins        []KBinsRule        `json:"kbins"`
	YeoJohnson   []YeoJohnsonRule   `json:"yeo_johnson"`
	Robust       []RobustRule       `json:"robust"`
	MissingFlags []MissingFlag      `json:"missing_flags"`
	Ordinal      []OrdinalRule      `json:"ordinal"`
	Impute       map[string]float64 `json:"impute"`
}

// Bundle is a loaded, validated artifact bundle.
type Bundle struct {
	Version    string
	Checksum   string
	Schema     Schema
	Transforms Transforms
	Model      *Model
	Origin     string
}

type bundleFile struct {
	Version    string          `json:"version"`
	Checksum   string          `json:"checksum,omitempty"`
	Schema     Schema          `json:"schema"`
	Transforms Transforms      `json:"transforms"`
	Model      json.RawMessage `json:"model"`
}

// Parse decodes and validates a bundle document. Every failure is a
// TrainingData error.
func Parse(data []byte) (*Bundle, error) {
	const op = "artifact.parse"
	var raw bundleFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, failure.Wrap(failure.TrainingData, op, fmt.Errorf("decode bundle: %w", err))
	}
	if len(raw.Model) == 0 {
		return nil, failure.New(failure.TrainingData, op, "bundle has no model")
	}
	if raw.Checksum != "" {
		if err := sha256.New().Verify(raw.Model, raw.Checksum); err != nil {
			return nil, failure.Wrap(failure.TrainingData, op, fmt.Errorf("model section: %w", err))
		}
	}
	var model Model
	if err := json.Unmarshal(raw.Model, &model); err != nil {
		return nil, failure.Wrap(failure.TrainingData, op, fmt.Errorf("decode model: %w", err))
	}
	b := &Bundle{
		Version:    raw.Version,
		Checksum:   raw.Checksum,
		Schema:     raw.Schema,
		Transforms: raw.Transforms,
		Model:      &model,
	}
	if err := b.Validate(); err != nil {
		return nil, failure.Wrap(failure.TrainingData, op, err)
	}
	return b, nil
}

// ParseFile reads and parses the bundle at path. A missing file is a
// ModelNotFound error.
func ParseFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied bundle path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, failure.Wrap(failure.ModelNotFound, "artifact.parse_file", err)
		}
		return nil, failure.Wrap(failure.TrainingData, "artifact.parse_file", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, err
	}
	b.Origin = path
	return b, nil
}

// Validate checks the structural invariants of the bundle.
func (b *Bundle) Validate() error {
	if b.Version == "" {
		return errors.New("bundle version is required")
	}
	if len(b.Schema.Fields) == 0 {
		return errors.New("schema has no fields")
	}
	seen := make(map[string]struct{}, len(b.Schema.Fields))
	for _, f := range b.Schema.Fields {
		if f == "" {
			return errors.New("schema has an empty field name")
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("schema field %q is duplicated", f)
		}
		seen[f] = struct{}{}
	}
	if err := b.Transforms.validate(); err != nil {
		return fmt.Errorf("transforms: %w", err)
	}
	if b.Model == nil {
		return errors.New("bundle has no model")
	}
	if err := b.Model.validate(len(b.Schema.Fields)); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	return nil
}

func (t Transforms) validate() error {
	for _, r := range t.Capping {
		if r.Lower == nil && r.Upper == nil {
			return fmt.Errorf("capping %s has no bound", r.Field)
		}
		if r.Lower != nil && r.Upper != nil && *r.Lower > *r.Upper {
			return fmt.Errorf("capping %s lower exceeds upper", r.Field)
		}
	}
	for _, r := range t.Quantile {
		if r.Output == "" {
			return fmt.Errorf("quantile %s has no output", r.Field)
		}
		if len(r.Quantiles) < 2 || len(r.Quantiles) != len(r.References) {
			return fmt.Errorf("quantile %s needs matching quantiles and references", r.Field)
		}
		if !nonDecreasing(r.Quantiles) || !nonDecreasing(r.References) {
			return fmt.Errorf("quantile %s is not monotonic", r.Field)
		}
	}
	for _, r := range t.KBins {
		if r.Output == "" {
			return fmt.Errorf("kbins %s has no output", r.Field)
		}
		if len(r.Edges) < 2 || !nonDecreasing(r.Edges) {
			return fmt.Errorf("kbins %s needs at least two increasing edges", r.Field)
		}
	}
	for _, r := range t.YeoJohnson {
		if (r.Mean == nil) != (r.Std == nil) {
			return fmt.Errorf("yeo_johnson %s needs both mean and std", r.Field)
		}
		if r.Std != nil && *r.Std <= 0 {
			return fmt.Errorf("yeo_johnson %s std must be positive", r.Field)
		}
	}
	for _, r := range t.Robust {
		if r.Scale == 0 || math.IsNaN(r.Scale) {
			return fmt.Errorf("robust %s scale must be non-zero", r.Field)
		}
	}
	for _, r := range t.MissingFlags {
		if r.Output == "" {
			return fmt.Errorf("missing flag %s has no output", r.Field)
		}
	}
	for _, r := range t.Ordinal {
		if len(r.Categories) == 0 {
			return fmt.Errorf("ordinal %s has no categories", r.Field)
		}
	}
	return nil
}

func nonDecreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] < xs[i-1] {
			return false
		}
	}
	return true
}
