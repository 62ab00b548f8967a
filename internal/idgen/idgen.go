// Package idgen mints random identifiers for stored records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 random hex characters, e.g.
// "cl_6f1a...". Prefixes name the record kind so IDs stay greppable in
// logs.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns numBytes of cryptographic randomness hex-encoded.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
