package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := "phemex-api-secret-0123456789"

	encoded, err := EncryptString(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, encoded)
	assert.NotContains(t, encoded, plaintext)

	decoded, err := DecryptString(encoded)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	first, err := EncryptString("same secret")
	require.NoError(t, err)
	second, err := EncryptString("same secret")
	require.NoError(t, err)

	// Identical plaintexts must never produce identical ciphertexts.
	assert.NotEqual(t, first, second)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	encoded, err := EncryptString("api-key")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01

	_, err = DecryptString(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	_, err := DecryptString("not base64!!")
	assert.Error(t, err)

	_, err = DecryptString(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorContains(t, err, "too short")
}
