// Package secrets encrypts stored credentials (data source passwords,
// channel webhook URLs) with AES-256-GCM. Encrypted values carry an
// "enc:" prefix so plaintext rows from before encryption was enabled
// keep working.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors" // Wrap errors with context.
)

const encryptedPrefix = "enc:"

const keySize = 32 // AES-256

// IsEncrypted reports whether value carries the encrypted prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}

// DecodeKey parses a base64 encryption key, accepting both raw (no
// padding) and standard encodings, and requires it to be 32 bytes.
// An empty input yields a nil key, which disables encryption.
func DecodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode encryption key")
	}
	if len(key) != keySize {
		return nil, errors.Errorf("encryption key must decode to %d bytes (got %d)", keySize, len(key))
	}
	return key, nil
}

// MaybeEncrypt encrypts value when a key is configured. Empty and
// already-encrypted values pass through unchanged, as does everything
// when key is nil.
func MaybeEncrypt(value string, key []byte) (string, error) {
	if value == "" || IsEncrypted(value) || len(key) == 0 {
		return value, nil
	}
	return Encrypt(value, key)
}

// MaybeDecrypt decrypts value if it is encrypted, passing plaintext
// through unchanged. An encrypted value with no key configured is an
// error rather than a silent credential leak into ES requests.
func MaybeDecrypt(value string, key []byte) (string, error) {
	if value == "" || !IsEncrypted(value) {
		return value, nil
	}
	if len(key) == 0 {
		return "", errors.New("encrypted value present but no encryption key configured")
	}
	return Decrypt(value, key)
}

// Encrypt seals plaintext into "enc:<base64(nonce|ciphertext)>".
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}
	payload := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.RawStdEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt. Unprefixed values are returned as-is.
func Decrypt(value string, key []byte) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	payload, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", errors.Wrap(err, "decode encrypted payload")
	}
	if len(payload) < gcm.NonceSize() {
		return "", errors.New("encrypted payload too short")
	}
	nonce, ciphertext := payload[:gcm.NonceSize()], payload[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypt value")
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, errors.Errorf("encryption key must be %d bytes (got %d)", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}
	return gcm, nil
}
