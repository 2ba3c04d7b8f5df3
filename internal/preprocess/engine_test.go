package preprocess

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alisufyan143/location-analyzer-v2/internal/acquisition"
	"github.com/alisufyan143/location-analyzer-v2/internal/artifact"
	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/features"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

var ref = time.Date(2025, time.November, 18, 10, 0, 0, 0, time.UTC)

func loadBundle(t *testing.T) *artifact.Bundle {
	t.Helper()
	b, err := artifact.ParseFile("../artifact/testdata/bundle.json")
	require.NoError(t, err)
	return b
}

func manchesterBase(t *testing.T, overrides scraper.Attributes) features.Base {
	t.Helper()
	attrs := scraper.Attributes{
		"population":                23405,
		"households":                11020,
		"white":                     60.0,
		"non_white":                 40.0,
		"working":                   60.0,
		"unemployed":                5.0,
		"unemployment_rate":         5.0,
		"ab":                        30.0,
		"c1_c2":                     20.0,
		"de":                        25.0,
		"avg_household_income":      38700,
		"distance_to_nearest_miles": 0.2,
		"nearby_station_count":      3,
		"transport_score":           8,
		"nearest_station_type":      "Overground",
	}
	for k, v := range overrides {
		attrs[k] = v
	}
	base, err := features.Map(acquisition.Merged{Postcode: "M1 1AF", Attributes: attrs})
	require.NoError(t, err)
	return base
}

func get(t *testing.T, v features.Vector, name string) float64 {
	t.Helper()
	got, ok := v.Get(name)
	require.True(t, ok, name)
	return got
}

func TestApplyReplaysTrainingTransforms(t *testing.T) {
	t.Parallel()

	b := loadBundle(t)
	vec, err := Apply(b, manchesterBase(t, nil), ref)
	require.NoError(t, err)
	require.True(t, vec.SameNames(b.Schema.Fields))

	working := (math.Pow(61, 1.2)-1)/1.2 - 110
	tests := []struct {
		field string
		want  float64
	}{
		{"population", math.Log1p(30000)},
		{"households", math.Log1p(11020)},
		{"white", 60},
		{"non-white", 40},
		{"non-white_quantile", 0.65},
		{"working", working / 25},
		{"unemployed", 5},
		{"unemployed_kmeans_bin", 1},
		{"unemployment_rate", 5},
		{"unemployment_rate_is_missing", 0},
		{"ab", 30},
		{"ab_kmeans_bin", 2},
		{"c1/c2", (math.Pow(21, 0.8) - 1) / 0.8},
		{"de_kmeans_bin", 1},
		{"avg_household_income", 0.37},
		{"Distance_to_Nearest_Station", math.Log1p(0.2)},
		{"Nearby_Station_Count", math.Sqrt(3)},
		{"Transport_Accessibility_Score", 7},
		{"Nearest_Station_Type", 0},
		{"Year", 2025},
		{"Month", 11},
		{"Dayofweek", 1},
		{"Is_Weekend", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, get(t, vec, tt.field), 1e-9, tt.field)
	}
}

func TestApplyMissingValues(t *testing.T) {
	t.Parallel()

	b := loadBundle(t)
	base := manchesterBase(t, scraper.Attributes{
		"unemployment_rate":         nil,
		"unemployed":                nil,
		"avg_household_income":      nil,
		"distance_to_nearest_miles": nil,
		"transport_score":           nil,
		"nearest_station_type":      nil,
	})
	vec, err := Apply(b, base, ref)
	require.NoError(t, err)

	assert.InDelta(t, 1, get(t, vec, "unemployment_rate_is_missing"), 0)
	// Imputed by the bundle.
	assert.InDelta(t, 0, get(t, vec, "avg_household_income"), 0)
	assert.InDelta(t, 3, get(t, vec, "Transport_Accessibility_Score"), 0)
	// Not imputed: NaN reaches the model.
	for _, f := range []string{"unemployment_rate", "unemployed", "unemployed_kmeans_bin", "Distance_to_Nearest_Station", "Nearest_Station_Type"} {
		assert.True(t, math.IsNaN(get(t, vec, f)), f)
	}
}

func TestApplyZeroIsNotMissing(t *testing.T) {
	t.Parallel()

	vec, err := Apply(loadBundle(t), manchesterBase(t, scraper.Attributes{"unemployment_rate": 0}), ref)
	require.NoError(t, err)
	assert.InDelta(t, 0, get(t, vec, "unemployment_rate_is_missing"), 0)
	assert.InDelta(t, 0, get(t, vec, "unemployment_rate"), 0)
}

func TestApplyUnknownCategory(t *testing.T) {
	t.Parallel()

	vec, err := Apply(loadBundle(t), manchesterBase(t, scraper.Attributes{"nearest_station_type": "Bus"}), ref)
	require.NoError(t, err)
	assert.InDelta(t, -1, get(t, vec, "Nearest_Station_Type"), 0)
}

func TestApplyFallbackCapping(t *testing.T) {
	t.Parallel()

	lowPop, households := 1.0, 5000.0
	engine := New([]artifact.CapRule{
		{Field: "population", Lower: &lowPop},
		{Field: "households", Upper: &households},
	})
	vec, err := engine.Apply(loadBundle(t), manchesterBase(t, nil), ref)
	require.NoError(t, err)
	// The bundle's own population rule wins over the fallback.
	assert.InDelta(t, math.Log1p(30000), get(t, vec, "population"), 1e-9)
	assert.InDelta(t, math.Log1p(5000), get(t, vec, "households"), 1e-9)
}

func TestApplyLargePopulationIsNotCapped(t *testing.T) {
	t.Parallel()

	vec, err := Apply(loadBundle(t), manchesterBase(t, scraper.Attributes{"population": 51000}), ref)
	require.NoError(t, err)
	assert.InDelta(t, math.Log1p(51000), get(t, vec, "population"), 1e-9)
}

func TestApplyErrors(t *testing.T) {
	t.Parallel()

	_, err := Apply(nil, manchesterBase(t, nil), ref)
	assert.True(t, failure.Is(err, failure.ModelNotFound))

	b := loadBundle(t)
	broken := *b
	broken.Schema.Fields = append(append([]string(nil), b.Schema.Fields...), "Date")
	_, err = Apply(&broken, manchesterBase(t, nil), ref)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.FeatureEngineering))
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	t.Parallel()

	base := manchesterBase(t, nil)
	_, err := Apply(loadBundle(t), base, ref)
	require.NoError(t, err)
	got, _ := base.Value("population")
	assert.InDelta(t, 23405, got, 0)
	cat, ok := base.Category("Nearest_Station_Type")
	assert.True(t, ok)
	assert.Equal(t, "Overground", cat)
}

func TestQuantileMap(t *testing.T) {
	t.Parallel()

	q := []float64{0, 10, 25, 50, 100}
	r := []float64{0, 0.25, 0.5, 0.75, 1}
	tests := []struct {
		x, want float64
	}{
		{-5, 0},
		{0, 0},
		{5, 0.125},
		{25, 0.5},
		{75, 0.875},
		{100, 1},
		{250, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, quantileMap(tt.x, q, r), 1e-12, "x=%v", tt.x)
	}
	assert.True(t, math.IsNaN(quantileMap(math.NaN(), q, r)))
}

func TestKBin(t *testing.T) {
	t.Parallel()

	edges := []float64{0, 3, 6, 10, 100}
	tests := []struct {
		x, want float64
	}{
		{-1, 0},
		{0, 0},
		{2.9, 0},
		{3, 1},
		{6, 2},
		{9.99, 2},
		{10, 3},
		{500, 3},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, kbin(tt.x, edges), 0, "x=%v", tt.x)
	}
	assert.True(t, math.IsNaN(kbin(math.NaN(), edges)))
}

func TestYeoJohnson(t *testing.T) {
	t.Parallel()

	for _, x := range []float64{-3, -0.5, 0, 0.5, 3} {
		assert.InDelta(t, x, yeoJohnson(x, 1), 1e-12, "identity at lambda 1")
	}
	assert.InDelta(t, math.Log1p(2), yeoJohnson(2, 0), 1e-12)
	assert.InDelta(t, -math.Log1p(2), yeoJohnson(-2, 2), 1e-12)
	assert.InDelta(t, (math.Pow(3, 0.5)-1)/0.5, yeoJohnson(2, 0.5), 1e-12)
	assert.InDelta(t, -(math.Pow(3, 1.5)-1)/1.5, yeoJohnson(-2, 0.5), 1e-12)
	assert.True(t, math.IsNaN(yeoJohnson(math.NaN(), 0.5)))
}

func TestClamp(t *testing.T) {
	t.Parallel()

	lo, hi := 1.0, 2.0
	assert.InDelta(t, 1, clamp(0, &lo, &hi), 0)
	assert.InDelta(t, 2, clamp(3, &lo, &hi), 0)
	assert.InDelta(t, 1.5, clamp(1.5, &lo, nil), 0)
	assert.InDelta(t, -4, clamp(-4, nil, &hi), 0)
}
