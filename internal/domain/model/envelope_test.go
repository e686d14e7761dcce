package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_EncodeParse(t *testing.T) {
	env := EncryptedEnvelope{
		AlgorithmVersion: 1,
		Nonce:            []byte{1, 2, 3},
		Ciphertext:       []byte("cipher"),
		AuthTag:          []byte{9, 9},
	}

	encoded := env.Encode()
	assert.True(t, IsEnvelope(encoded))

	parsed, err := ParseEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, env, parsed)
}

func TestParseEnvelope_Malformed(t *testing.T) {
	for _, input := range []string{
		"",
		"plaintext",
		"enc:v1:only-three",
		"enc:vX:a:b:c",
		"enc:v1:***:b:c",
		"xyz:v1:a:b:c",
	} {
		_, err := ParseEnvelope(input)
		assert.ErrorIs(t, err, ErrDecrypt, "input %q", input)
	}
}

func TestIsEnvelope(t *testing.T) {
	assert.False(t, IsEnvelope("ftp.example.com"))
	assert.False(t, IsEnvelope("encrypted-looking"))
	assert.True(t, IsEnvelope("enc:v1:a:b:c"))
}
