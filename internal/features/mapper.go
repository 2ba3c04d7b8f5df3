package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alisufyan143/location-analyzer-v2/internal/acquisition"
	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

// Base is the canonical pre-transform record for one postcode. Missing
// numeric fields hold NaN; missing categorical fields are absent.
type Base struct {
	Postcode    string
	BranchName  string
	Numeric     map[string]float64
	Categorical map[string]string
	// Imputed lists the optional sources that failed.
	Imputed []string
}

// Value returns the numeric field and whether it is present.
func (b Base) Value(name string) (float64, bool) {
	v, ok := b.Numeric[name]
	if !ok || math.IsNaN(v) {
		return math.NaN(), false
	}
	return v, true
}

// Category returns the categorical field and whether it is present.
func (b Base) Category(name string) (string, bool) {
	v, ok := b.Categorical[name]
	return v, ok
}

// Clone returns a deep copy.
func (b Base) Clone() Base {
	out := b
	out.Numeric = make(map[string]float64, len(b.Numeric))
	for k, v := range b.Numeric {
		out.Numeric[k] = v
	}
	out.Categorical = make(map[string]string, len(b.Categorical))
	for k, v := range b.Categorical {
		out.Categorical[k] = v
	}
	out.Imputed = append([]string(nil), b.Imputed...)
	return out
}

// Display returns the values shown to callers. Missing fields are omitted.
func (b Base) Display() map[string]any {
	out := make(map[string]any, len(b.Numeric)+len(b.Categorical)+1)
	for k, v := range b.Numeric {
		if !math.IsNaN(v) {
			out[k] = v
		}
	}
	for k, v := range b.Categorical {
		out[k] = v
	}
	if b.BranchName != "" {
		out[BranchNameKey] = b.BranchName
	}
	return out
}

// Map builds the base record from merged attributes. It fails with
// FeatureEngineering when a required field cannot be derived.
func Map(m acquisition.Merged) (Base, error) {
	base := Base{
		Postcode:    m.Postcode,
		Numeric:     make(map[string]float64),
		Categorical: make(map[string]string),
		Imputed:     append([]string(nil), m.Missing...),
	}
	for _, f := range canonical {
		switch f.Kind {
		case Categorical:
			if v, ok := lookupCategory(m.Attributes, f); ok {
				base.Categorical[f.Name] = v
			}
		default:
			base.Numeric[f.Name] = lookupNumber(m.Attributes, f)
		}
		if !f.Required {
			continue
		}
		_, numeric := base.Value(f.Name)
		_, categorical := base.Category(f.Name)
		if !numeric && !categorical {
			return Base{}, failure.Newf(failure.FeatureEngineering, "features.map",
				"required field %s could not be derived", f.Name).WithPostcode(m.Postcode)
		}
	}
	return base, nil
}

func lookupNumber(attrs scraper.Attributes, f Field) float64 {
	for _, a := range f.candidates() {
		raw, ok := attrs[a.Name]
		if !ok {
			continue
		}
		if v, ok := toFloat(raw); ok {
			return v * a.Factor
		}
	}
	return math.NaN()
}

func lookupCategory(attrs scraper.Attributes, f Field) (string, bool) {
	for _, a := range f.candidates() {
		raw, ok := attrs[a.Name]
		if !ok || raw == nil {
			continue
		}
		var s string
		switch v := raw.(type) {
		case string:
			s = strings.TrimSpace(v)
		case float64:
			if math.IsNaN(v) {
				continue
			}
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			s = strings.TrimSpace(fmt.Sprint(v))
		}
		if s != "" {
			return s, true
		}
	}
	return "", false
}

// toFloat converts a raw attribute to float64. Strings may carry thousands
// separators, a currency sign or a percent sign.
func toFloat(raw any) (float64, bool) {
	var v float64
	switch x := raw.(type) {
	case nil:
		return 0, false
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint:
		v = float64(x)
	case uint64:
		v = float64(x)
	case interface{ Float64() (float64, error) }:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		s := strings.NewReplacer(",", "", "£", "", "%", "", " ", "").Replace(strings.TrimSpace(x))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
