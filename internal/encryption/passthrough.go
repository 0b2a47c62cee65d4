package encryption

import (
	"github.com/tidemark-io/tidemark-db/pkg/convert"
	"github.com/tidemark-io/tidemark-db/pkg/encryption"
	"github.com/tidemark-io/tidemark-db/pkg/types"
)

// PassthroughEncryptionService leaves data in the clear. Only for tests and
// local single-device setups.
type PassthroughEncryptionService struct{}

func NewPassthrough() *PassthroughEncryptionService {
	return &PassthroughEncryptionService{}
}

func (s *PassthroughEncryptionService) EncryptObject(_ types.PageID, plaintext []byte) ([]byte, error) {
	return convert.ToArray(plaintext), nil
}

func (s *PassthroughEncryptionService) DecryptObject(_ types.PageID, ciphertext []byte) ([]byte, error) {
	return convert.ToArray(ciphertext), nil
}

func (s *PassthroughEncryptionService) KeyFingerprint() types.Hash {
	return types.Hash{}
}

var _ encryption.EncryptionService = (*PassthroughEncryptionService)(nil)
