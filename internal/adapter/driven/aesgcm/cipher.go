// Package aesgcm implements the Cipher port with AES-256-GCM under a key
// derived from an operator secret with scrypt.
package aesgcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Cipher = (*Cipher)(nil)

// CurrentVersion is the algorithm version every new envelope is sealed with.
const CurrentVersion = 1

const (
	keySize = 32

	// scrypt parameters for key derivation; derivation happens once per process.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	gcmTagSize = 16
)

// DefaultSalt is used when the operator does not configure a salt.
const DefaultSalt = "vendorvault/credential-key/v1"

// Cipher seals and opens credential values. The derived key lives only in
// memory.
type Cipher struct {
	aead   cipher.AEAD
	random io.Reader
}

// DeriveKey stretches the operator secret into a 32-byte key.
func DeriveKey(secret, salt string) ([]byte, error) {
	if secret == "" {
		return nil, driven.ErrEncryptionKeyNotSet
	}
	if salt == "" {
		salt = DefaultSalt
	}
	key, err := scrypt.Key([]byte(secret), []byte(salt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return key, nil
}

// New derives a key from secret and salt and returns a ready Cipher.
func New(secret, salt string) (*Cipher, error) {
	key, err := DeriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	return NewWithKey(key)
}

// NewWithKey returns a Cipher for an already derived 32-byte key.
func NewWithKey(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return nil, driven.ErrEncryptionKeyNotSet
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("aes-256-gcm key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, gcmTagSize)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	return &Cipher{aead: aead, random: rand.Reader}, nil
}

// Encrypt seals plaintext under CurrentVersion. The nonce is read from the
// random source on every call and never derived from the input.
func (c *Cipher) Encrypt(plaintext string) (model.EncryptedEnvelope, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("rand nonce: %w", err)
	}

	// Seal returns ciphertext || tag.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - c.aead.Overhead()

	return model.EncryptedEnvelope{
		AlgorithmVersion: CurrentVersion,
		Nonce:            nonce,
		Ciphertext:       sealed[:split],
		AuthTag:          sealed[split:],
	}, nil
}

// Decrypt opens env according to its algorithm version.
func (c *Cipher) Decrypt(env model.EncryptedEnvelope) (string, error) {
	switch env.AlgorithmVersion {
	case 1:
		return c.openV1(env)
	default:
		return "", fmt.Errorf("%w: unsupported algorithm version %d", model.ErrDecrypt, env.AlgorithmVersion)
	}
}

func (c *Cipher) openV1(env model.EncryptedEnvelope) (string, error) {
	if len(env.Nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: nonce must be %d bytes", model.ErrDecrypt, c.aead.NonceSize())
	}
	if len(env.AuthTag) != gcmTagSize {
		return "", fmt.Errorf("%w: auth tag must be %d bytes", model.ErrDecrypt, gcmTagSize)
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.AuthTag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := c.aead.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gcm.Open: %v", model.ErrDecrypt, err)
	}
	return string(plaintext), nil
}
