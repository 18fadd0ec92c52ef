package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/lodgic/authd/internal/errors"
)

const (
	// keyDerivationIterations follows the cost used when the vault
	// format was introduced. Changing it invalidates stored ciphertext.
	keyDerivationIterations = 100_000
	keySize                 = 32
)

// keyDerivationSalt is fixed so the same master key always derives the
// same encryption key. Versioned in case the format ever rotates.
var keyDerivationSalt = []byte("lodgic_vault_salt_v1")

// Cipher encrypts and decrypts vault payloads with AES-256-GCM. The key
// is derived once from the master key at construction.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(masterKey string) (*Cipher, error) {
	if masterKey == "" {
		return nil, apperrors.ConfigurationError("vault master key cannot be empty", nil)
	}

	key := pbkdf2.Key([]byte(masterKey), keyDerivationSalt, keyDerivationIterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext and returns base64 text safe for storage.
// The random nonce is prepended to the sealed payload.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Corrupt ciphertext and ciphertext produced
// under a different master key both fail authentication and surface as
// a decryption error.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperrors.DecryptionError("ciphertext is not valid base64", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", apperrors.DecryptionError("ciphertext is too short", nil)
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", apperrors.DecryptionError("failed to decrypt secret", err)
	}
	return string(plaintext), nil
}
