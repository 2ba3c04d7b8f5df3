package postcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
)

func TestParseNormalizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lowercase", "m1 1af", "M1 1AF"},
		{"no space", "sw1a1aa", "SW1A 1AA"},
		{"extra spaces", "  EC1A   1BB ", "EC1A 1BB"},
		{"tab inside", "W1A\t0AX", "W1A 0AX"},
		{"pseudo postcode", "zz99 9zz", "ZZ99 9ZZ"},
		{"girobank", "gir0aa", "GIR 0AA"},
		{"two letter area", "ub5 5af", "UB5 5AF"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pc, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pc.String())
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "hello", "12345", "M1", "M1 1A", "1M1 1AF", "M1 AAF", "ABC1 1AF"} {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(raw)
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.InvalidPostcode))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"m1 1af", "M11AF", " sw1a  1aa", "gir 0aa", "x", "", "ab12cd3ef", "ZZ99 9ZZ"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestParts(t *testing.T) {
	t.Parallel()

	pc := MustParse("sw1a 1aa")
	assert.Equal(t, "SW1A", pc.Outward())
	assert.Equal(t, "SW1A1AA", pc.Compact())
	assert.Equal(t, "SW1A_1AA", pc.Key())
}
