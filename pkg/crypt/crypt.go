// Package crypt provides the cryptographic primitives of TidemarkDB:
// content-addressing hashes, HMAC tags, key derivation and secure randomness.
package crypt

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// MinHMACKeySize is the minimum HMAC key length in bytes. Shorter keys are
// rejected rather than silently truncated.
const MinHMACKeySize = 32

// SHA256WithLengthHash hashes an 8-byte little-endian length prefix followed
// by the data. The prefix prevents ambiguity between concatenated inputs; it
// is the only hash used to derive object and commit ids.
func SHA256WithLengthHash(data []byte) types.Hash {
	h := sha256.New()

	lengthBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(lengthBytes, uint64(len(data)))
	h.Write(lengthBytes)
	h.Write(data)

	var digest types.Hash
	copy(digest[:], h.Sum(nil))
	return digest
}

// SHA256HMAC computes an RFC 2104 HMAC-SHA256 tag. The key must be at least
// MinHMACKeySize bytes.
func SHA256HMAC(key, data []byte) ([]byte, error) {
	if len(key) < MinHMACKeySize {
		return nil, types.NewError(types.StatusInvalidArgument,
			"HMAC key shorter than 32 bytes")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// DeriveKey derives a subkey from a master key via HKDF-SHA256. The info
// string separates key domains, for example one subkey per page.
func DeriveKey(master []byte, info string, size int) ([]byte, error) {
	if len(master) < MinHMACKeySize {
		return nil, types.NewError(types.StatusInvalidArgument,
			"master key shorter than 32 bytes")
	}

	out := make([]byte, size)
	kdf := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, types.WrapError(types.StatusInternalError, "hkdf expand", err)
	}
	return out, nil
}

// RandBytes fills buf with cryptographically secure random bytes. An entropy
// source failure aborts the process; degraded randomness is never returned.
func RandBytes(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		panic("crypt: entropy source failed: " + err.Error())
	}
}

// RandUint64 returns a uniform random value over the full 64-bit range.
func RandUint64() uint64 {
	var b [8]byte
	RandBytes(b[:])
	return binary.LittleEndian.Uint64(b[:])
}
