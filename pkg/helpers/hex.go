package helpers

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// LengthError reports a decoded value of the wrong size.
type LengthError struct {
	Want, Got int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("expected %d bytes, got %d", e.Want, e.Got)
}

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return hex.DecodeString(s)
}

// BytesToHex converts bytes to a hex string with 0x prefix.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexToFixed decodes s into exactly size bytes.
func HexToFixed(s string, size int) ([]byte, error) {
	b, err := HexToBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, &LengthError{Want: size, Got: len(b)}
	}
	return b, nil
}
