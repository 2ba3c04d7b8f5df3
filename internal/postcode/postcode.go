// Package postcode normalizes and validates UK postcodes.
package postcode

import (
	"regexp"
	"strings"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
)

// grammar accepts the standard outward/inward shapes plus the GIR 0AA special case.
var grammar = regexp.MustCompile(`^(GIR 0AA|[A-Z]{1,2}[0-9][0-9A-Z]? [0-9][A-Z]{2})$`)

// Postcode is a normalized, validated UK postcode.
type Postcode struct {
	value string
}

// Normalize uppercases raw, strips all whitespace and re-inserts a single
// space before the three-character inward code. It does not validate.
func Normalize(raw string) string {
	compact := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if len(compact) < 5 {
		return compact
	}
	return compact[:len(compact)-3] + " " + compact[len(compact)-3:]
}

// Parse normalizes raw and validates it against the UK grammar.
func Parse(raw string) (Postcode, error) {
	norm := Normalize(raw)
	if !grammar.MatchString(norm) {
		return Postcode{}, failure.New(failure.InvalidPostcode, "postcode.parse", "not a UK postcode").
			WithPostcode(strings.TrimSpace(raw))
	}
	return Postcode{value: norm}, nil
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(raw string) Postcode {
	pc, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return pc
}

// String returns the normalized form, e.g. "M1 1AF".
func (p Postcode) String() string {
	return p.value
}

// Outward returns the outward code, e.g. "M1".
func (p Postcode) Outward() string {
	out, _, _ := strings.Cut(p.value, " ")
	return out
}

// Compact returns the postcode without the space, e.g. "M11AF".
func (p Postcode) Compact() string {
	return strings.ReplaceAll(p.value, " ", "")
}

// Key returns a filesystem and cache safe form, e.g. "M1_1AF".
func (p Postcode) Key() string {
	return strings.ReplaceAll(p.value, " ", "_")
}
