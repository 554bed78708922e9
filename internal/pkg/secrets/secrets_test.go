package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := Encrypt("hunter2", testKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "enc:"))
	assert.NotContains(t, enc, "hunter2")

	plain, err := Decrypt(enc, testKey)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestEncryptUniqueNonces(t *testing.T) {
	a, err := Encrypt("same", testKey)
	require.NoError(t, err)
	b, err := Encrypt("same", testKey)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWrongKey(t *testing.T) {
	enc, err := Encrypt("secret", testKey)
	require.NoError(t, err)

	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	_, err = Decrypt(enc, otherKey)
	assert.Error(t, err)
}

func TestDecryptPassthroughPlaintext(t *testing.T) {
	plain, err := Decrypt("not-encrypted", testKey)
	require.NoError(t, err)
	assert.Equal(t, "not-encrypted", plain)
}

func TestMaybeEncrypt(t *testing.T) {
	// No key: plaintext passes through.
	out, err := MaybeEncrypt("secret", nil)
	require.NoError(t, err)
	assert.Equal(t, "secret", out)

	// Already-encrypted values are not double-wrapped.
	enc, err := Encrypt("secret", testKey)
	require.NoError(t, err)
	out, err = MaybeEncrypt(enc, testKey)
	require.NoError(t, err)
	assert.Equal(t, enc, out)

	out, err = MaybeEncrypt("", testKey)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestMaybeDecryptRequiresKey(t *testing.T) {
	enc, err := Encrypt("secret", testKey)
	require.NoError(t, err)

	_, err = MaybeDecrypt(enc, nil)
	assert.Error(t, err)

	out, err := MaybeDecrypt("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestDecodeKey(t *testing.T) {
	raw := base64.RawStdEncoding.EncodeToString(testKey)
	key, err := DecodeKey(raw)
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	// Padded standard encoding is accepted too.
	padded := base64.StdEncoding.EncodeToString(testKey)
	key, err = DecodeKey(padded)
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	key, err = DecodeKey("")
	require.NoError(t, err)
	assert.Nil(t, key)

	_, err = DecodeKey("!!!not-base64!!!")
	assert.Error(t, err)

	_, err = DecodeKey(base64.RawStdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}
