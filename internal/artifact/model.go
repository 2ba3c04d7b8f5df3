package artifact

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Aggregations across ensemble members.
const (
	AggregateMedian = "median"
	AggregateMean   = "mean"
)

// Member kinds.
const (
	KindTrees  = "trees"
	KindLinear = "linear"
)

// Node is one node of a regression tree. A node with Leaf set is terminal.
// Otherwise rows with x[Feature] < Threshold go Left, others Right, and NaN
// follows DefaultLeft.
type Node struct {
	Feature     int      `json:"feature"`
	Threshold   float64  `json:"threshold"`
	Left        int      `json:"left"`
	Right       int      `json:"right"`
	DefaultLeft bool     `json:"default_left"`
	Leaf        *float64 `json:"leaf,omitempty"`
}

// Tree is a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) eval(row []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf != nil {
			return *n.Leaf
		}
		x := row[n.Feature]
		switch {
		case math.IsNaN(x):
			if n.DefaultLeft {
				i = n.Left
			} else {
				i = n.Right
			}
		case x < n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
}

// Member is one regressor of the ensemble: a boosted tree sum or a linear
// model.
type Member struct {
	Name         string    `json:"name,omitempty"`
	Kind         string    `json:"kind"`
	BaseScore    float64   `json:"base_score"`
	Trees        []Tree    `json:"trees,omitempty"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients,omitempty"`
}

// predict scores one row. Missing inputs contribute nothing to a linear
// member.
func (m Member) predict(row []float64) float64 {
	if m.Kind == KindLinear {
		sum := m.Intercept
		for i, c := range m.Coefficients {
			if x := row[i]; !math.IsNaN(x) {
				sum += c * x
			}
		}
		return sum
	}
	sum := m.BaseScore
	for _, t := range m.Trees {
		sum += t.eval(row)
	}
	return sum
}

// Model is a median (or mean) ensemble over members. Predictions are in
// log1p space.
type Model struct {
	Features  int      `json:"num_features"`
	Aggregate string   `json:"aggregate"`
	Members   []Member `json:"members"`
}

// PredictBatch scores every row. Each row must be exactly Features wide.
func (m *Model) PredictBatch(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	scores := make([]float64, len(m.Members))
	for r, row := range rows {
		if len(row) != m.Features {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", r, len(row), m.Features)
		}
		for i, member := range m.Members {
			scores[i] = member.predict(row)
		}
		out[r] = aggregate(m.Aggregate, scores)
	}
	return out, nil
}

func aggregate(kind string, scores []float64) float64 {
	if kind == AggregateMean {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		return sum / float64(len(scores))
	}
	sorted := slices.Clone(scores)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (m *Model) validate(width int) error {
	if m.Features != width {
		return fmt.Errorf("num_features %d does not match schema width %d", m.Features, width)
	}
	switch m.Aggregate {
	case AggregateMedian, AggregateMean:
	case "":
		m.Aggregate = AggregateMedian
	default:
		return fmt.Errorf("unknown aggregate %q", m.Aggregate)
	}
	if len(m.Members) == 0 {
		return errors.New("ensemble has no members")
	}
	for i, member := range m.Members {
		switch member.Kind {
		case KindTrees:
			if len(member.Trees) == 0 {
				return fmt.Errorf("member %d has no trees", i)
			}
			for j, t := range member.Trees {
				if err := t.validate(width); err != nil {
					return fmt.Errorf("member %d tree %d: %w", i, j, err)
				}
			}
		case KindLinear:
			if len(member.Coefficients) != width {
				return fmt.Errorf("member %d has %d coefficients, want %d", i, len(member.Coefficients), width)
			}
		default:
			return fmt.Errorf("member %d has unknown kind %q", i, member.Kind)
		}
	}
	return nil
}

// validate requires children to follow their parent so evaluation always
// terminates.
func (t Tree) validate(width int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Leaf != nil {
			continue
		}
		if n.Feature < 0 || n.Feature >= width {
			return fmt.Errorf("node %d splits on feature %d outside [0,%d)", i, n.Feature, width)
		}
		for _, child := range []int{n.Left, n.Right} {
			if child <= i || child >= len(t.Nodes) {
				return fmt.Errorf("node %d has invalid child %d", i, child)
			}
		}
	}
	return nil
}
