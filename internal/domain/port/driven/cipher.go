package driven

import (
	"errors"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned when the cipher is constructed without
// key material.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set VENDORVAULT_SECRET_KEY")

// Cipher encrypts sensitive credential values at rest.
type Cipher interface {
	// Encrypt seals plaintext under the current algorithm version with a
	// fresh nonce.
	Encrypt(plaintext string) (model.EncryptedEnvelope, error)

	// Decrypt opens an envelope of any supported algorithm version. Failures
	// wrap model.ErrDecrypt.
	Decrypt(env model.EncryptedEnvelope) (string, error)
}
