// Package sha256 derives stable blob keys from cache identifiers.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex-encoded SHA-256 digests.
type Hasher struct{}

// New creates a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum returns the hex digest of data.
func (Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
