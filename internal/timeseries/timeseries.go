// Package timeseries expands one preprocessed snapshot into the monthly
// rows of a forecast horizon.
package timeseries

import (
	"iter"
	"time"

	"github.com/alisufyan143/location-analyzer-v2/internal/features"
)

// Horizon is the number of months synthesized.
const Horizon = 12

// LabelLayout formats month labels, e.g. "Jan 2026".
const LabelLayout = "Jan 2006"

// Month is one synthesized row.
type Month struct {
	Date   time.Time
	Label  string
	Vector features.Vector
}

// Months yields Horizon rows starting the month after ref. Each row is a
// copy of base with its time fields recomputed for the first day of that
// month; every other feature is held constant. Time fields absent from the
// vector are skipped.
func Months(base features.Vector, ref time.Time) iter.Seq[Month] {
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	return func(yield func(Month) bool) {
		for i := 1; i <= Horizon; i++ {
			day := start.AddDate(0, i, 0)
			vec := base.Clone()
			for name, v := range features.TimeValues(day) {
				_ = vec.Set(name, v)
			}
			if !yield(Month{Date: day, Label: day.Format(LabelLayout), Vector: vec}) {
				return
			}
		}
	}
}
