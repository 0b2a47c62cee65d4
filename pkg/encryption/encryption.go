// Package encryption defines the interface for the confidentiality boundary
// between local storage and the network in TidemarkDB.
package encryption

import (
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// EncryptionService seals page data before it leaves the device and unseals
// it on the way back. Implementations must fail deterministically: the same
// ciphertext and key always produce the same plaintext or the same error,
// and garbled input surfaces INTERNAL_ERROR, never truncated plaintext.
type EncryptionService interface {
	// EncryptObject seals plaintext for the given page. The result embeds
	// everything needed for decryption except the key.
	EncryptObject(page types.PageID, plaintext []byte) ([]byte, error)

	// DecryptObject reverses EncryptObject.
	DecryptObject(page types.PageID, ciphertext []byte) ([]byte, error)

	// KeyFingerprint identifies the key material without revealing it, so
	// devices can detect key mismatch before uploading garbage.
	KeyFingerprint() types.Hash
}
