// Package crypto encrypts ApiKey secrets at rest. A symmetric key is derived
// from an environment-provided master secret via PBKDF2 with a fixed
// application salt (100k iterations), per spec §6.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/Laisky/errors/v2"
	"golang.org/x/crypto/pbkdf2"
)

// applicationSalt is fixed and non-secret: it only ensures the derived key is
// not directly the master secret, not that it is unguessable on its own.
var applicationSalt = []byte("modelgate-api-key-kdf-salt-v1")

const kdfIterations = 100_000

// testPatterns are substrings that indicate a placeholder key rather than a
// real credential (§6); new keys matching any of these are rejected.
var testPatterns = []string{"demo", "test", "example", "replace", "your-key"}

// Box derives the AES-256-GCM key from masterSecret once and encrypts/decrypts
// ApiKey secrets with it.
type Box struct {
	key []byte
}

// NewBox derives a 32-byte AES key from masterSecret via PBKDF2-SHA256.
func NewBox(masterSecret string) *Box {
	key := pbkdf2.Key([]byte(masterSecret), applicationSalt, kdfIterations, 32, sha256.New)
	return &Box{key: key}
}

// ValidateNewSecret enforces the minimum-length and placeholder-pattern
// checks required before accepting a new key (§6).
func ValidateNewSecret(plaintext string) error {
	if len(plaintext) < 10 {
		return errors.New("api key secret is too short (minimum 10 characters)")
	}
	lower := strings.ToLower(plaintext)
	for _, pattern := range testPatterns {
		if strings.Contains(lower, pattern) {
			return errors.Errorf("api key secret looks like a placeholder (matches %q)", pattern)
		}
	}
	return nil
}

// Encrypt returns the base64-encoded ciphertext (nonce prefix + sealed data)
// for a plaintext secret.
func (b *Box) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", errors.Wrap(err, "construct aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "construct gcm")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", errors.Wrap(err, "construct aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "construct gcm")
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypt secret")
	}
	return string(plaintext), nil
}

// MaskedPrefix returns the first four characters of plaintext plus asterisks,
// the only form a secret may take in logs (§6).
func MaskedPrefix(plaintext string) string {
	if len(plaintext) <= 4 {
		return "****"
	}
	return plaintext[:4] + "****"
}
