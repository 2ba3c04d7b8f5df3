// Package forecast scores synthesized months with the bundle's model and
// converts the log-space predictions back to currency.
package forecast

import (
	"iter"
	"math"
	"time"

	"github.com/alisufyan143/location-analyzer-v2/internal/artifact"
	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/timeseries"
)

// Point is one month of the forecast. Value is never negative.
type Point struct {
	Date  time.Time
	Label string
	Value float64
}

// Series is the ordered forecast; index i matches the i-th input month.
type Series []Point

// Headline returns the first month's value.
func (s Series) Headline() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[0].Value
}

// Forecast scores months in a single batch against b.
func Forecast(b *artifact.Bundle, months iter.Seq[timeseries.Month]) (Series, error) {
	const op = "forecast.forecast"
	if b == nil || b.Model == nil {
		return nil, failure.New(failure.ModelNotFound, op, "no model loaded")
	}

	var (
		rows   [][]float64
		series Series
	)
	for m := range months {
		if !m.Vector.SameNames(b.Schema.Fields) {
			return nil, failure.Newf(failure.FeatureEngineering, op,
				"vector for %s does not match schema %s", m.Label, b.Schema.Version)
		}
		rows = append(rows, m.Vector.Values())
		series = append(series, Point{Date: m.Date, Label: m.Label})
	}
	if len(rows) == 0 {
		return Series{}, nil
	}

	preds, err := b.Model.PredictBatch(rows)
	if err != nil {
		return nil, failure.Wrap(failure.TrainingData, op, err)
	}
	if len(preds) != len(rows) {
		return nil, failure.Newf(failure.TrainingData, op, "model returned %d predictions for %d rows", len(preds), len(rows))
	}
	for i, p := range preds {
		series[i].Value = currency(p)
	}
	return series, nil
}

// currency inverts the log1p target and clips at zero. NaN scores clip to
// zero as well.
func currency(logValue float64) float64 {
	v := math.Expm1(logValue)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
