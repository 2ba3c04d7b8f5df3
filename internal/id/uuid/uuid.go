// Package uuid generates the identifiers attached to forecast events and
// HTTP requests.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct{}

// New returns a Generator.
func New() *Generator { return &Generator{} }

// NewID returns a UUID v7 string.
func (*Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// MustNewID is NewID for callers with no error path; it falls back to a
// random v4 when the v7 clock source fails.
func (g *Generator) MustNewID() string {
	if id, err := g.NewID(); err == nil {
		return id
	}
	return uuid.NewString()
}

// Valid reports whether s is a canonical hyphenated UUID.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuid.Validate(s) == nil
}
