package aesgcm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

func newTestCipher(t *testing.T, fill byte) *Cipher {
	t.Helper()
	c, err := NewWithKey(bytes.Repeat([]byte{fill}, keySize))
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t, 1)

	for _, plaintext := range []string{"", "p", "hunter2", "ünïcødé secret ✓", string(bytes.Repeat([]byte("x"), 4096))} {
		env, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.Equal(t, CurrentVersion, env.AlgorithmVersion)

		got, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestCipher_FreshNonceEveryCall(t *testing.T) {
	c := newTestCipher(t, 1)

	first, err := c.Encrypt("same")
	require.NoError(t, err)
	second, err := c.Encrypt("same")
	require.NoError(t, err)

	assert.NotEqual(t, first.Nonce, second.Nonce)
	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
	assert.NotEqual(t, first.Encode(), second.Encode())
}

func TestCipher_EncodedEnvelopeRoundTrip(t *testing.T) {
	c := newTestCipher(t, 1)

	env, err := c.Encrypt("ftp-password")
	require.NoError(t, err)

	encoded := env.Encode()
	assert.True(t, model.IsEnvelope(encoded))
	assert.NotContains(t, encoded, "ftp-password")

	parsed, err := model.ParseEnvelope(encoded)
	require.NoError(t, err)

	got, err := c.Decrypt(parsed)
	require.NoError(t, err)
	assert.Equal(t, "ftp-password", got)
}

func TestCipher_TamperedCiphertext(t *testing.T) {
	c := newTestCipher(t, 1)

	env, err := c.Encrypt("secret")
	require.NoError(t, err)
	env.Ciphertext[0] ^= 0xff

	_, err = c.Decrypt(env)
	assert.ErrorIs(t, err, model.ErrDecrypt)
}

func TestCipher_TamperedTag(t *testing.T) {
	c := newTestCipher(t, 1)

	env, err := c.Encrypt("secret")
	require.NoError(t, err)
	env.AuthTag[len(env.AuthTag)-1] ^= 0x01

	_, err = c.Decrypt(env)
	assert.ErrorIs(t, err, model.ErrDecrypt)
}

func TestCipher_WrongKey(t *testing.T) {
	env, err := newTestCipher(t, 1).Encrypt("secret")
	require.NoError(t, err)

	_, err = newTestCipher(t, 2).Decrypt(env)
	assert.ErrorIs(t, err, model.ErrDecrypt)
}

func TestCipher_UnsupportedVersion(t *testing.T) {
	c := newTestCipher(t, 1)

	env, err := c.Encrypt("secret")
	require.NoError(t, err)
	env.AlgorithmVersion = 99

	_, err = c.Decrypt(env)
	assert.ErrorIs(t, err, model.ErrDecrypt)
}

func TestCipher_BadNonceLength(t *testing.T) {
	c := newTestCipher(t, 1)

	env, err := c.Encrypt("secret")
	require.NoError(t, err)
	env.Nonce = env.Nonce[:4]

	_, err = c.Decrypt(env)
	assert.ErrorIs(t, err, model.ErrDecrypt)
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New("", "")
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)

	_, err = NewWithKey(nil)
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)
}

func TestNewWithKey_RejectsShortKey(t *testing.T) {
	_, err := NewWithKey([]byte("too-short"))
	assert.Error(t, err)
}

func TestDeriveKey_IsDeterministicPerSalt(t *testing.T) {
	a, err := DeriveKey("operator-secret", "salt-a")
	require.NoError(t, err)
	again, err := DeriveKey("operator-secret", "salt-a")
	require.NoError(t, err)
	b, err := DeriveKey("operator-secret", "salt-b")
	require.NoError(t, err)

	assert.Len(t, a, keySize)
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
}

func TestNew_SecretsRoundTripAcrossInstances(t *testing.T) {
	first, err := New("operator-secret", "")
	require.NoError(t, err)
	second, err := New("operator-secret", DefaultSalt)
	require.NoError(t, err)

	env, err := first.Encrypt("shared")
	require.NoError(t, err)

	got, err := second.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, "shared", got)
}
