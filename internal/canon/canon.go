// Package canon computes stable digests of JSON documents. The recovery
// wrapper stores a digest of the session document so a torn or hand-edited
// copy can be detected on the next launch.
package canon

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 (JCS) canonical form of JSON input.
func Canonicalize(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// Digest canonicalizes JSON input and returns a sha256 hex digest. Two
// documents that differ only in key order or whitespace share a digest.
func Digest(input []byte) (string, error) {
	canonical, err := Canonicalize(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
