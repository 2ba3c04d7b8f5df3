package preprocess

import (
	"fmt"
	"strings"

	"github.com/alisufyan143/location-analyzer-v2/internal/artifact"
	"github.com/alisufyan143/location-analyzer-v2/internal/features"
)

// CheckSatisfiable verifies that every schema field of b can be produced
// from the canonical fields, the transform outputs and the time fields, and
// that every transform reads a field of the right kind.
func CheckSatisfiable(b *artifact.Bundle) error {
	numeric := map[string]bool{}
	categorical := map[string]bool{}
	for _, f := range features.Fields() {
		if f.Kind == features.Categorical {
			categorical[f.Name] = true
			continue
		}
		numeric[f.Name] = true
	}

	t := b.Transforms
	var problems []string
	needNumeric := func(stage, field string) {
		if !numeric[field] {
			problems = append(problems, fmt.Sprintf("%s reads %s, which is not a numeric field", stage, field))
		}
	}
	for _, r := range t.Capping {
		needNumeric("capping", r.Field)
	}
	for _, f := range t.Log1p {
		needNumeric("log1p", f)
	}
	for _, f := range t.Sqrt {
		needNumeric("sqrt", f)
	}
	for _, r := range t.Quantile {
		needNumeric("quantile", r.Field)
		numeric[r.Output] = true
	}
	for _, r := range t.KBins {
		needNumeric("kbins", r.Field)
		numeric[r.Output] = true
	}
	for _, r := range t.YeoJohnson {
		needNumeric("yeo_johnson", r.Field)
	}
	for _, r := range t.Robust {
		needNumeric("robust", r.Field)
	}
	for _, r := range t.MissingFlags {
		if !numeric[r.Field] && !categorical[r.Field] {
			problems = append(problems, fmt.Sprintf("missing flag reads unknown field %s", r.Field))
		}
		numeric[r.Output] = true
	}
	for _, r := range t.Ordinal {
		if !categorical[r.Field] {
			problems = append(problems, fmt.Sprintf("ordinal reads %s, which is not a categorical field", r.Field))
		}
		numeric[r.Field] = true
	}
	for _, f := range features.TimeFields() {
		numeric[f] = true
	}

	for _, f := range b.Schema.Fields {
		if !numeric[f] {
			problems = append(problems, fmt.Sprintf("schema field %s cannot be produced", f))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("unsatisfiable bundle: %s", strings.Join(problems, "; "))
	}
	return nil
}
