package features

import (
	"fmt"
	"math"
	"slices"
)

// Vector is an ordered set of named float64 features. The name order is
// fixed at construction and shared between clones.
type Vector struct {
	names  []string
	index  map[string]int
	values []float64
}

// NewVector returns a vector over names with every value set to NaN.
func NewVector(names []string) Vector {
	v := Vector{
		names:  slices.Clone(names),
		index:  make(map[string]int, len(names)),
		values: make([]float64, len(names)),
	}
	for i, n := range v.names {
		v.index[n] = i
		v.values[i] = math.NaN()
	}
	return v
}

// Len returns the number of features.
func (v Vector) Len() int { return len(v.names) }

// Names returns the feature names in order.
func (v Vector) Names() []string { return slices.Clone(v.names) }

// Values returns a copy of the values in order.
func (v Vector) Values() []float64 { return slices.Clone(v.values) }

// Get returns the value of name.
func (v Vector) Get(name string) (float64, bool) {
	i, ok := v.index[name]
	if !ok {
		return math.NaN(), false
	}
	return v.values[i], true
}

// Set assigns name. Unknown names are an error.
func (v Vector) Set(name string, value float64) error {
	i, ok := v.index[name]
	if !ok {
		return fmt.Errorf("feature %q not in vector", name)
	}
	v.values[i] = value
	return nil
}

// Clone returns a vector with the same names and an independent copy of the values.
func (v Vector) Clone() Vector {
	return Vector{names: v.names, index: v.index, values: slices.Clone(v.values)}
}

// SameNames reports whether v lists exactly names, in order.
func (v Vector) SameNames(names []string) bool {
	return slices.Equal(v.names, names)
}
