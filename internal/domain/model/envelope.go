package model

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// envelopePrefix marks a stored value as an encoded EncryptedEnvelope.
const envelopePrefix = "enc"

// EncryptedEnvelope is the at-rest form of a sensitive value. AlgorithmVersion
// selects the decryption routine so older envelopes stay readable after the
// algorithm changes.
type EncryptedEnvelope struct {
	AlgorithmVersion int
	Nonce            []byte
	Ciphertext       []byte
	AuthTag          []byte
}

// Encode renders the envelope as "enc:v<version>:<nonce>:<ciphertext>:<tag>"
// with unpadded base64url components.
func (e EncryptedEnvelope) Encode() string {
	enc := base64.RawURLEncoding
	return strings.Join([]string{
		envelopePrefix,
		"v" + strconv.Itoa(e.AlgorithmVersion),
		enc.EncodeToString(e.Nonce),
		enc.EncodeToString(e.Ciphertext),
		enc.EncodeToString(e.AuthTag),
	}, ":")
}

// IsEnvelope reports whether s looks like an encoded envelope.
func IsEnvelope(s string) bool {
	return strings.HasPrefix(s, envelopePrefix+":v")
}

// ParseEnvelope decodes a string produced by Encode.
func ParseEnvelope(s string) (EncryptedEnvelope, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 || parts[0] != envelopePrefix || !strings.HasPrefix(parts[1], "v") {
		return EncryptedEnvelope{}, fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}

	version, err := strconv.Atoi(parts[1][1:])
	if err != nil || version < 0 {
		return EncryptedEnvelope{}, fmt.Errorf("%w: malformed envelope version %q", ErrDecrypt, parts[1])
	}

	enc := base64.RawURLEncoding
	var env EncryptedEnvelope
	env.AlgorithmVersion = version
	if env.Nonce, err = enc.DecodeString(parts[2]); err != nil {
		return EncryptedEnvelope{}, fmt.Errorf("%w: decode nonce: %v", ErrDecrypt, err)
	}
	if env.Ciphertext, err = enc.DecodeString(parts[3]); err != nil {
		return EncryptedEnvelope{}, fmt.Errorf("%w: decode ciphertext: %v", ErrDecrypt, err)
	}
	if env.AuthTag, err = enc.DecodeString(parts[4]); err != nil {
		return EncryptedEnvelope{}, fmt.Errorf("%w: decode auth tag: %v", ErrDecrypt, err)
	}
	return env, nil
}
