// Package helpers holds small encoding and byte utilities shared by the
// swap, wallet and CLI packages.
package helpers

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

// IsZeroBytes reports whether every byte of b is zero. An empty slice is zero.
func IsZeroBytes(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

// GenerateSecureRandom returns n bytes from crypto/rand.
func GenerateSecureRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// ConstantTimeCompare reports whether a and b are equal without leaking the
// position of the first difference.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
