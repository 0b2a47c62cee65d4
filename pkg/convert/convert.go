// Package convert provides lossless adapters between the wire representation
// of data (fixed byte arrays) and the in-process representation (strings and
// slices) used for hashing and storage keys.
package convert

import "encoding/hex"

// ToArray copies b into a newly allocated slice. The result does not alias
// the input, so callers may retain it across transport buffer reuse.
func ToArray(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ToString copies b into an owned string.
func ToString(b []byte) string {
	return string(b)
}

// ToHex encodes b for debugging and CLI output.
func ToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// FromHex decodes a hex string produced by ToHex.
func FromHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
