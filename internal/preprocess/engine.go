// Package preprocess replays the frozen training transforms on a base
// record and assembles the model input vector in schema order. Parameters
// come from the artifact bundle and are never refit.
package preprocess

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/alisufyan143/location-analyzer-v2/internal/artifact"
	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/features"
)

// Engine applies bundle transforms. Fallback capping rules apply to fields
// the bundle does not cap itself.
type Engine struct {
	fallbackCaps []artifact.CapRule
}

// New returns an Engine with the given fallback capping rules.
func New(fallbackCaps []artifact.CapRule) *Engine {
	return &Engine{fallbackCaps: slices.Clone(fallbackCaps)}
}

var defaultEngine = New(nil)

// Apply runs the transforms of b on base with no fallback rules.
func Apply(b *artifact.Bundle, base features.Base, ref time.Time) (features.Vector, error) {
	return defaultEngine.Apply(b, base, ref)
}

// state is the working frame of one row: numeric columns (NaN when missing)
// and the categorical columns still awaiting encoding.
type state struct {
	num map[string]float64
	cat map[string]string
}

func (s *state) missing(field string) bool {
	if v, ok := s.num[field]; ok {
		return math.IsNaN(v)
	}
	_, ok := s.cat[field]
	return !ok
}

func (s *state) value(field string) float64 {
	if v, ok := s.num[field]; ok {
		return v
	}
	return math.NaN()
}

// mapNumeric replaces field with fn(field), leaving NaN and absent fields alone.
func (s *state) mapNumeric(field string, fn func(float64) float64) {
	v, ok := s.num[field]
	if !ok || math.IsNaN(v) {
		return
	}
	s.num[field] = fn(v)
}

// Apply transforms base into the model input for reference time ref.
func (e *Engine) Apply(b *artifact.Bundle, base features.Base, ref time.Time) (features.Vector, error) {
	const op = "preprocess.apply"
	if b == nil {
		return features.Vector{}, failure.New(failure.ModelNotFound, op, "no bundle loaded")
	}
	t := b.Transforms
	st := &state{num: make(map[string]float64, len(base.Numeric)+8), cat: make(map[string]string, len(base.Categorical))}
	for k, v := range base.Numeric {
		st.num[k] = v
	}
	for k, v := range base.Categorical {
		st.cat[k] = v
	}

	for _, r := range e.capRules(t.Capping) {
		st.mapNumeric(r.Field, func(x float64) float64 { return clamp(x, r.Lower, r.Upper) })
	}
	for _, f := range t.Log1p {
		st.mapNumeric(f, math.Log1p)
	}
	for _, f := range t.Sqrt {
		st.mapNumeric(f, math.Sqrt)
	}
	for _, r := range t.Quantile {
		st.num[r.Output] = quantileMap(st.value(r.Field), r.Quantiles, r.References)
	}
	for _, r := range t.KBins {
		st.num[r.Output] = kbin(st.value(r.Field), r.Edges)
	}
	for _, r := range t.YeoJohnson {
		st.mapNumeric(r.Field, func(x float64) float64 {
			y := yeoJohnson(x, r.Lambda)
			if r.Mean != nil && r.Std != nil {
				y = (y - *r.Mean) / *r.Std
			}
			return y
		})
	}
	for _, r := range t.Robust {
		st.mapNumeric(r.Field, func(x float64) float64 { return (x - r.Center) / r.Scale })
	}
	for _, r := range t.MissingFlags {
		flag := 0.0
		if st.missing(r.Field) {
			flag = 1
		}
		st.num[r.Output] = flag
	}
	for _, r := range t.Ordinal {
		st.num[r.Field] = ordinal(st.cat, r)
		delete(st.cat, r.Field)
	}
	for k, v := range features.TimeValues(ref) {
		st.num[k] = v
	}
	for k, v := range t.Impute {
		if cur, ok := st.num[k]; ok && math.IsNaN(cur) {
			st.num[k] = v
		}
	}

	vec := features.NewVector(b.Schema.Fields)
	for _, name := range b.Schema.Fields {
		v, ok := st.num[name]
		if !ok {
			return features.Vector{}, failure.Newf(failure.FeatureEngineering, op,
				"schema field %s was not produced", name).WithPostcode(base.Postcode)
		}
		_ = vec.Set(name, v)
	}
	return vec, nil
}

// capRules returns the bundle rules followed by fallbacks for uncapped fields.
func (e *Engine) capRules(bundle []artifact.CapRule) []artifact.CapRule {
	if len(e.fallbackCaps) == 0 {
		return bundle
	}
	covered := make(map[string]struct{}, len(bundle))
	for _, r := range bundle {
		covered[r.Field] = struct{}{}
	}
	rules := slices.Clone(bundle)
	for _, r := range e.fallbackCaps {
		if _, ok := covered[r.Field]; !ok {
			rules = append(rules, r)
		}
	}
	return rules
}

func clamp(x float64, lower, upper *float64) float64 {
	if lower != nil && x < *lower {
		x = *lower
	}
	if upper != nil && x > *upper {
		x = *upper
	}
	return x
}

// quantileMap interpolates x over quantiles onto references, clamping
// outside the fitted range.
func quantileMap(x float64, quantiles, references []float64) float64 {
	if math.IsNaN(x) {
		return math.NaN()
	}
	n := len(quantiles)
	if x <= quantiles[0] {
		return references[0]
	}
	if x >= quantiles[n-1] {
		return references[n-1]
	}
	i := sort.Search(n, func(i int) bool { return quantiles[i] > x }) - 1
	lo, hi := quantiles[i], quantiles[i+1]
	if hi == lo {
		return references[i+1]
	}
	frac := (x - lo) / (hi - lo)
	return references[i] + frac*(references[i+1]-references[i])
}

// kbin returns the bin index of x: the number of inner edges <= x, clamped
// to [0, bins-1].
func kbin(x float64, edges []float64) float64 {
	if math.IsNaN(x) {
		return math.NaN()
	}
	inner := edges[1 : len(edges)-1]
	idx := sort.Search(len(inner), func(i int) bool { return inner[i] > x })
	bins := len(edges) - 1
	return float64(min(max(idx, 0), bins-1))
}

func yeoJohnson(x, lambda float64) float64 {
	const eps = 1e-12
	if x >= 0 {
		if math.Abs(lambda) < eps {
			return math.Log1p(x)
		}
		return (math.Pow(x+1, lambda) - 1) / lambda
	}
	if math.Abs(lambda-2) < eps {
		return -math.Log1p(-x)
	}
	return -(math.Pow(-x+1, 2-lambda) - 1) / (2 - lambda)
}

func ordinal(cats map[string]string, r artifact.OrdinalRule) float64 {
	v, ok := cats[r.Field]
	if !ok {
		return math.NaN()
	}
	if i := slices.Index(r.Categories, v); i >= 0 {
		return float64(i)
	}
	return r.UnknownValue
}
