// Package sha256 computes the digests used to verify artifact bundles.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hasher produces lowercase hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports an error when data does not hash to want. An optional
// "sha256:" prefix on want is ignored, as is its case.
func (h *Hasher) Verify(data []byte, want string) error {
	got, err := h.Hash(data)
	if err != nil {
		return err
	}
	want = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(want), "sha256:"))
	if got != want {
		return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
	}
	return nil
}
